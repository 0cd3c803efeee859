package pma

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"unsafe"

	"github.com/hupe1980/pmago/internal/density"
	"github.com/hupe1980/pmago/internal/sepindex"
)

// Missing is the sentinel returned by Find and Remove when a key is absent.
// Callers must not store -1 as a meaningful value.
const Missing = int64(-1)

var (
	// ErrSegmentCapacity is returned when the segment capacity is out of
	// range or does not divide the OS page size.
	ErrSegmentCapacity = errors.New("pma: invalid segment capacity")
	// ErrPagesPerExtent is returned when the extent size is not a power of
	// two pages.
	ErrPagesPerExtent = errors.New("pma: pages per extent must be a power of two")
)

// Pair is one key/value element.
type Pair struct {
	Key   int64
	Value int64
}

// SumResult aggregates a key range without materializing it.
type SumResult struct {
	Count     int
	SumKeys   int64
	SumValues int64
	FirstKey  int64
	LastKey   int64
}

// Stats is a snapshot of the array geometry and the rebalancing counters.
type Stats struct {
	Cardinality     int
	Capacity        int
	NumSegments     int
	SegmentCapacity int
	Height          int

	Spreads        uint64
	RewiredSpreads uint64
	ResizesUp      uint64
	ResizesDown    uint64

	MinSegmentSize int
	MaxSegmentSize int
}

type counters struct {
	spreads        uint64
	rewiredSpreads uint64
	resizesUp      uint64
	resizesDown    uint64
}

// PMA is a packed memory array of int64 key/value pairs indexed by a static
// separator tree. It is not safe for concurrent use.
type PMA struct {
	index  *sepindex.Index
	st     storage
	bounds *density.Bounds
	logger *slog.Logger

	// scratch for the in-place two-chunk spread, capacity 4*B+1
	chunkKeys   []int64
	chunkValues []int64

	counters counters
}

// New creates an empty PMA. segmentCapacity is rounded up to a power of two
// and must end up in [32, 65535] with segmentCapacity*8 dividing the OS page
// size; pagesPerExtent must be a power of two.
func New(segmentCapacity, pagesPerExtent int, logger *slog.Logger) (*PMA, error) {
	segCap := hyperceil(segmentCapacity)
	if segCap > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d exceeds the maximum of %d", ErrSegmentCapacity, segmentCapacity, math.MaxUint16)
	}
	if segCap < 32 {
		return nil, fmt.Errorf("%w: %d is below the minimum of 32", ErrSegmentCapacity, segmentCapacity)
	}
	if !isPowerOfTwo(pagesPerExtent) {
		return nil, fmt.Errorf("%w: got %d", ErrPagesPerExtent, pagesPerExtent)
	}
	if os.Getpagesize()%(segCap*8) != 0 {
		return nil, fmt.Errorf("%w: %d*8 bytes must divide the page size of %d", ErrSegmentCapacity, segCap, os.Getpagesize())
	}

	st, err := newStorage(segCap, pagesPerExtent)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &PMA{
		index:       sepindex.New(segCap, 1),
		st:          st,
		bounds:      density.NewBounds(1),
		logger:      logger,
		chunkKeys:   make([]int64, 4*segCap+1),
		chunkValues: make([]int64, 4*segCap+1),
	}
	p.index.SetSeparatorKey(0, math.MinInt64)
	return p, nil
}

func isPowerOfTwo(x int) bool {
	return x > 0 && x&(x-1) == 0
}

// Len returns the number of stored elements.
func (p *PMA) Len() int { return p.st.cardinality }

// Empty reports whether the array holds no elements.
func (p *PMA) Empty() bool { return p.st.cardinality == 0 }

// SegmentCapacity returns the per-segment capacity B.
func (p *PMA) SegmentCapacity() int { return p.st.segCap }

// NumSegments returns the current number of segments.
func (p *PMA) NumSegments() int { return p.st.numSegments }

// Height returns the height of the calibrator tree, log2(segments)+1.
func (p *PMA) Height() int { return p.st.height }

// Capacity returns the total number of element slots.
func (p *PMA) Capacity() int { return p.st.capacity }

// MemoryFootprint returns the bytes retained by the array and its index.
func (p *PMA) MemoryFootprint() uintptr {
	total := unsafe.Sizeof(*p) + p.index.MemoryFootprint()
	if p.st.memKeys != nil {
		total += p.st.memKeys.MemoryFootprint()
		total += p.st.memValues.MemoryFootprint()
		total += p.st.memSizes.MemoryFootprint()
	} else {
		total += uintptr(len(p.st.keys)+len(p.st.values)) * 8
		total += uintptr(len(p.st.sizes)) * 2
	}
	total += uintptr(cap(p.chunkKeys)+cap(p.chunkValues)) * 8
	return total
}

// Stats returns a snapshot of the geometry and the rebalancing counters.
func (p *PMA) Stats() Stats {
	s := Stats{
		Cardinality:     p.st.cardinality,
		Capacity:        p.st.capacity,
		NumSegments:     p.st.numSegments,
		SegmentCapacity: p.st.segCap,
		Height:          p.st.height,
		Spreads:         p.counters.spreads,
		RewiredSpreads:  p.counters.rewiredSpreads,
		ResizesUp:       p.counters.resizesUp,
		ResizesDown:     p.counters.resizesDown,
	}
	s.MinSegmentSize = p.st.segCap
	for i := 0; i < p.st.numSegments; i++ {
		sz := int(p.st.sizes[i])
		s.MinSegmentSize = min(s.MinSegmentSize, sz)
		s.MaxSegmentSize = max(s.MaxSegmentSize, sz)
	}
	return s
}

// Close releases the memory held by the array. The PMA must not be used
// afterwards. It is idempotent.
func (p *PMA) Close() error {
	p.st.free()
	return nil
}
