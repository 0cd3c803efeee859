package pmago

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, optFns ...Option) *Index {
	t.Helper()
	idx, err := New(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestNew_Defaults(t *testing.T) {
	idx := newTestIndex(t)

	stats := idx.Stats()
	assert.Equal(t, 64, stats.SegmentCapacity)
	assert.Equal(t, 1, stats.NumSegments)
	assert.True(t, idx.Empty())
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithSegmentCapacity(8))
	var segErr *ErrInvalidSegmentCapacity
	require.ErrorAs(t, err, &segErr)
	assert.Equal(t, 8, segErr.Capacity)

	_, err = New(WithPagesPerExtent(6))
	var pagesErr *ErrInvalidPagesPerExtent
	require.ErrorAs(t, err, &pagesErr)
	assert.Equal(t, 6, pagesErr.Pages)
}

func TestIndex_BasicRoundTrip(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Insert(10, 100))
	require.NoError(t, idx.Insert(20, 200))

	assert.Equal(t, int64(100), idx.Find(10))
	assert.Equal(t, int64(200), idx.Find(20))
	assert.Equal(t, Missing, idx.Find(30))

	v, err := idx.Remove(10)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)
	assert.Equal(t, Missing, idx.Find(10))
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_RangeAndSum(t *testing.T) {
	idx := newTestIndex(t, WithSegmentCapacity(32), WithPagesPerExtent(1))

	for k := int64(1); k <= 100; k++ {
		require.NoError(t, idx.Insert(k, k))
	}

	var keys []int64
	for k := range idx.Range(10, 20) {
		keys = append(keys, k)
	}
	require.Len(t, keys, 11)
	assert.Equal(t, int64(10), keys[0])
	assert.Equal(t, int64(20), keys[10])

	sum := idx.Sum(10, 20)
	assert.Equal(t, 11, sum.Count)
	assert.Equal(t, int64(165), sum.SumKeys)
	assert.Equal(t, int64(165), sum.SumValues)
	assert.Equal(t, int64(10), sum.FirstKey)
	assert.Equal(t, int64(20), sum.LastKey)
}

func TestIndex_SeedScenario5(t *testing.T) {
	// B=64; insert 1..100000, then remove every even key.
	idx := newTestIndex(t, WithSegmentCapacity(64), WithPagesPerExtent(16))

	const n = 100_000
	for k := int64(1); k <= n; k++ {
		require.NoError(t, idx.Insert(k, k))
	}
	for k := int64(2); k <= n; k += 2 {
		v, err := idx.Remove(k)
		require.NoError(t, err)
		require.Equal(t, k, v, "remove(%d)", k)
	}

	assert.Equal(t, n/2, idx.Len())
	assert.Equal(t, n/2, idx.Sum(1, n).Count)

	for k := int64(1); k <= n-1; k += 2 {
		require.Equal(t, k, idx.Find(k), "find(%d)", k)
	}

	// No segment decays below the leaf floor.
	stats := idx.Stats()
	assert.GreaterOrEqual(t, stats.MinSegmentSize, 64*8/100)
}

func TestIndex_SeedScenario6_RewiredResize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping the million-element scenario in short mode")
	}

	// B=128 with 2 MiB extents; the last doublings run the rewired resize.
	idx := newTestIndex(t, WithSegmentCapacity(128), WithPagesPerExtent(512))

	const n = 1_000_000
	for k := int64(1); k <= n; k++ {
		require.NoError(t, idx.Insert(k, k))
	}

	stats := idx.Stats()
	assert.Equal(t, n, stats.Cardinality)
	assert.Greater(t, stats.ResizesUp, uint64(0))

	next := int64(1)
	for k, v := range idx.All() {
		require.Equal(t, next, k)
		require.Equal(t, next, v)
		next++
	}
	assert.Equal(t, int64(n+1), next)

	sum := idx.Sum(1, n)
	assert.Equal(t, n, sum.Count)
	assert.Equal(t, int64(1), sum.FirstKey)
	assert.Equal(t, int64(n), sum.LastKey)
}

func TestIndex_LoadSorted(t *testing.T) {
	idx := newTestIndex(t)

	batch := make([]Pair, 10_000)
	for i := range batch {
		batch[i] = Pair{Key: int64(i + 1), Value: int64(-(i + 1))}
	}
	require.NoError(t, idx.LoadSorted(batch))

	assert.Equal(t, len(batch), idx.Len())

	i := 0
	for k, v := range idx.All() {
		require.Equal(t, batch[i].Key, k)
		require.Equal(t, batch[i].Value, v)
		i++
	}
	assert.Equal(t, len(batch), i)
}

func TestIndex_MetricsCollector(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	idx := newTestIndex(t, WithMetricsCollector(metrics))

	require.NoError(t, idx.Insert(1, 10))
	require.NoError(t, idx.Insert(2, 20))
	idx.Find(1)
	idx.Find(99)
	_, err := idx.Remove(2)
	require.NoError(t, err)
	_, err = idx.Remove(2)
	require.NoError(t, err)
	require.NoError(t, idx.LoadSorted([]Pair{{Key: 5, Value: 50}}))

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.InsertCount)
	assert.Equal(t, int64(0), stats.InsertErrors)
	assert.Equal(t, int64(2), stats.FindCount)
	assert.Equal(t, int64(1), stats.FindMisses)
	assert.Equal(t, int64(2), stats.RemoveCount)
	assert.Equal(t, int64(1), stats.RemoveMisses)
	assert.Equal(t, int64(1), stats.LoadCount)
	assert.Equal(t, int64(1), stats.LoadItems)
}

func TestIndex_MemoryFootprint(t *testing.T) {
	idx := newTestIndex(t)
	before := idx.MemoryFootprint()

	batch := make([]Pair, 50_000)
	for i := range batch {
		batch[i] = Pair{Key: int64(i), Value: int64(i)}
	}
	require.NoError(t, idx.LoadSorted(batch))

	assert.Greater(t, idx.MemoryFootprint(), before)
}

func TestIndex_CloseIdempotent(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	var nilIdx *Index
	require.NoError(t, nilIdx.Close())
}
