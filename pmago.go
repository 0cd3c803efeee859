package pmago

import (
	"iter"
	"time"

	"github.com/hupe1980/pmago/internal/pma"
)

// Missing is returned by Find and Remove when a key is absent. Callers must
// not store -1 as a meaningful value.
const Missing = pma.Missing

// Pair is one key/value element, used by LoadSorted.
type Pair = pma.Pair

// SumResult aggregates a key range: element count, sum of keys, sum of
// values, and the smallest and largest key in range.
type SumResult = pma.SumResult

// Stats is a snapshot of the index geometry and its rebalancing counters.
type Stats = pma.Stats

// Index is an ordered int64 -> int64 index backed by a packed memory array.
// It is not safe for concurrent use.
type Index struct {
	core    *pma.PMA
	metrics MetricsCollector
	logger  *Logger
}

// New creates an empty index. See the Option constructors for the tunables;
// the defaults (B=64, 16 pages per extent) suit most workloads.
func New(optFns ...Option) (*Index, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(o)
	}

	core, err := pma.New(o.segmentCapacity, o.pagesPerExtent, o.logger.Logger)
	if err != nil {
		return nil, translateConstructionError(err, o)
	}

	return &Index{
		core:    core,
		metrics: o.metricsCollector,
		logger:  o.logger,
	}, nil
}

// Insert adds a key/value pair. Keys are expected to be unique; inserting an
// existing key stores a duplicate and lookups return an arbitrary match.
// It fails only on allocation failure.
func (idx *Index) Insert(key, value int64) error {
	start := time.Now()
	err := idx.core.Insert(key, value)
	if idx.metrics != nil {
		idx.metrics.RecordInsert(time.Since(start), err)
	}
	return err
}

// Remove deletes a key and returns its value, or Missing when absent. An
// error can only arise from an allocation failure while rebalancing.
func (idx *Index) Remove(key int64) (int64, error) {
	start := time.Now()
	value, err := idx.core.Remove(key)
	if idx.metrics != nil {
		idx.metrics.RecordRemove(time.Since(start), value != Missing)
	}
	return value, err
}

// Find returns the value stored for key, or Missing.
func (idx *Index) Find(key int64) int64 {
	start := time.Now()
	value := idx.core.Find(key)
	if idx.metrics != nil {
		idx.metrics.RecordFind(time.Since(start), value != Missing)
	}
	return value
}

// Range returns a lazy ascending sequence over all pairs with
// keyMin <= key <= keyMax.
func (idx *Index) Range(keyMin, keyMax int64) iter.Seq2[int64, int64] {
	return idx.core.Range(keyMin, keyMax)
}

// All returns a lazy ascending sequence over every stored pair.
func (idx *Index) All() iter.Seq2[int64, int64] {
	return idx.core.All()
}

// Sum aggregates the range [keyMin, keyMax] without materializing it.
func (idx *Index) Sum(keyMin, keyMax int64) SumResult {
	return idx.core.Sum(keyMin, keyMax)
}

// LoadSorted merges a batch of pairs, sorted ascending by key, into the
// index. It is considerably faster than repeated Insert calls for sorted
// input. It fails only on allocation failure.
func (idx *Index) LoadSorted(batch []Pair) error {
	start := time.Now()
	err := idx.core.LoadSorted(batch)
	if idx.metrics != nil {
		idx.metrics.RecordLoad(len(batch), time.Since(start), err)
	}
	return err
}

// Len returns the number of stored elements.
func (idx *Index) Len() int { return idx.core.Len() }

// Empty reports whether the index holds no elements.
func (idx *Index) Empty() bool { return idx.core.Empty() }

// MemoryFootprint returns the bytes retained by the index.
func (idx *Index) MemoryFootprint() uintptr { return idx.core.MemoryFootprint() }

// Stats returns a snapshot of the index geometry and rebalancing counters.
func (idx *Index) Stats() Stats { return idx.core.Stats() }
