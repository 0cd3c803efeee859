package pma

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPMA(t *testing.T, segmentCapacity, pagesPerExtent int) *PMA {
	t.Helper()
	p, err := New(segmentCapacity, pagesPerExtent, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func collect(p *PMA) []Pair {
	var out []Pair
	for k, v := range p.All() {
		out = append(out, Pair{Key: k, Value: v})
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(16, 1, nil)
	assert.ErrorIs(t, err, ErrSegmentCapacity, "below the minimum of 32")

	_, err = New(1<<17, 1, nil)
	assert.ErrorIs(t, err, ErrSegmentCapacity, "beyond uint16 range")

	_, err = New(1024, 1, nil)
	assert.ErrorIs(t, err, ErrSegmentCapacity, "1024*8 bytes does not divide a 4 KiB page")

	_, err = New(64, 3, nil)
	assert.ErrorIs(t, err, ErrPagesPerExtent)

	// Rounded up to the next power of two.
	p, err := New(33, 1, nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 64, p.SegmentCapacity())
}

func TestPMA_EmptyState(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	assert.True(t, p.Empty())
	assert.Zero(t, p.Len())
	assert.Equal(t, 1, p.NumSegments())
	assert.Equal(t, 1, p.Height())
	assert.Equal(t, Missing, p.Find(42))

	v, err := p.Remove(42)
	require.NoError(t, err)
	assert.Equal(t, Missing, v)

	assert.Empty(t, collect(p))
	assert.Zero(t, p.Sum(math.MinInt64, math.MaxInt64).Count)
	require.NoError(t, p.Validate())
}

func TestPMA_SingleSegmentFill(t *testing.T) {
	// Up to B elements stay in segment 0 without growing.
	p := newTestPMA(t, 32, 1)

	for k := int64(1); k <= 32; k++ {
		require.NoError(t, p.Insert(k, k*2))
	}
	assert.Equal(t, 1, p.NumSegments())
	assert.Equal(t, 32, p.Len())
	require.NoError(t, p.Validate())

	for k := int64(1); k <= 32; k++ {
		assert.Equal(t, k*2, p.Find(k))
	}
}

func TestPMA_GrowthDoublesSegments(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	for k := int64(1); k <= 32; k++ {
		require.NoError(t, p.Insert(k, k))
	}
	require.Equal(t, 1, p.NumSegments())

	// One more element does not fit: the array doubles exactly once.
	require.NoError(t, p.Insert(33, 33))
	assert.Equal(t, 2, p.NumSegments())
	assert.Equal(t, 2, p.Height())
	require.NoError(t, p.Validate())
}

func TestPMA_InsertDescending(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	for k := int64(500); k >= 1; k-- {
		require.NoError(t, p.Insert(k, -k))
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, 500, p.Len())

	pairs := collect(p)
	require.Len(t, pairs, 500)
	for i, pair := range pairs {
		assert.Equal(t, int64(i+1), pair.Key)
		assert.Equal(t, -int64(i+1), pair.Value)
	}
}

func TestPMA_SeedScenario1(t *testing.T) {
	// B=32, one page per extent; keys 1..100 inserted in order.
	p := newTestPMA(t, 32, 1)

	for k := int64(1); k <= 100; k++ {
		require.NoError(t, p.Insert(k, k))
	}
	require.NoError(t, p.Validate())

	assert.Equal(t, int64(50), p.Find(50))

	sum := p.Sum(10, 20)
	assert.Equal(t, 11, sum.Count)
	assert.Equal(t, int64(165), sum.SumKeys)
	assert.Equal(t, int64(165), sum.SumValues)
	assert.Equal(t, int64(10), sum.FirstKey)
	assert.Equal(t, int64(20), sum.LastKey)
}

func TestPMA_SeedScenario2(t *testing.T) {
	// B=32; keys 1..64 with value 10*key.
	p := newTestPMA(t, 32, 1)

	for k := int64(1); k <= 64; k++ {
		require.NoError(t, p.Insert(k, 10*k))
	}

	v, err := p.Remove(32)
	require.NoError(t, err)
	assert.Equal(t, int64(320), v)
	assert.Equal(t, Missing, p.Find(32))

	var got []Pair
	for k, v := range p.Range(30, 34) {
		got = append(got, Pair{Key: k, Value: v})
	}
	assert.Equal(t, []Pair{{30, 300}, {31, 310}, {33, 330}, {34, 340}}, got)
	require.NoError(t, p.Validate())
}

func TestPMA_RemoveAllEmptiesStructure(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	for k := int64(1); k <= 100; k++ {
		require.NoError(t, p.Insert(k, k))
	}
	for k := int64(1); k <= 100; k++ {
		v, err := p.Remove(k)
		require.NoError(t, err)
		require.Equal(t, k, v, "remove(%d)", k)
		require.NoError(t, p.Validate(), "after remove(%d)", k)
	}

	assert.Zero(t, p.Len())
	assert.GreaterOrEqual(t, p.NumSegments(), 1)
	assert.Equal(t, Missing, p.Find(50))

	// The emptied structure accepts new content.
	require.NoError(t, p.Insert(7, 70))
	assert.Equal(t, int64(70), p.Find(7))
	require.NoError(t, p.Validate())
}

func TestPMA_RemoveDescending(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	for k := int64(1); k <= 300; k++ {
		require.NoError(t, p.Insert(k, k))
	}
	for k := int64(300); k >= 151; k-- {
		v, err := p.Remove(k)
		require.NoError(t, err)
		require.Equal(t, k, v)
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, 150, p.Len())

	pairs := collect(p)
	require.Len(t, pairs, 150)
	assert.Equal(t, int64(1), pairs[0].Key)
	assert.Equal(t, int64(150), pairs[149].Key)
}

func TestPMA_RandomOpsAgainstModel(t *testing.T) {
	p := newTestPMA(t, 32, 1)
	rng := rand.New(rand.NewSource(0x5eed))

	model := make(map[int64]int64)
	for i := 0; i < 5000; i++ {
		key := int64(rng.Intn(20000) + 1)
		if _, ok := model[key]; ok {
			continue // keys are unique by contract
		}
		value := int64(rng.Int63n(1 << 40))
		model[key] = value
		require.NoError(t, p.Insert(key, value))

		if i%97 == 0 {
			require.NoError(t, p.Validate(), "after %d inserts", i+1)
		}
	}

	for key, value := range model {
		require.Equal(t, value, p.Find(key), "find(%d)", key)
	}

	// Remove a random half and re-verify.
	for key := range model {
		if rng.Intn(2) == 0 {
			continue
		}
		v, err := p.Remove(key)
		require.NoError(t, err)
		require.Equal(t, model[key], v, "remove(%d)", key)
		delete(model, key)
	}
	require.NoError(t, p.Validate())
	require.Equal(t, len(model), p.Len())

	keys := make([]int64, 0, len(model))
	for key := range model {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	pairs := collect(p)
	require.Len(t, pairs, len(keys))
	for i, key := range keys {
		assert.Equal(t, key, pairs[i].Key)
		assert.Equal(t, model[key], pairs[i].Value)
	}
}

func TestPMA_InsertRemoveRoundTrip(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	before := p.Len()
	require.NoError(t, p.Insert(99, 1))
	v, err := p.Remove(99)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, Missing, p.Find(99))
	assert.Equal(t, before, p.Len())
}

func TestPMA_SequentialGrowthRewired(t *testing.T) {
	// With one page per extent the element arrays move onto the rewiring
	// pools at 16 segments, so the later doublings take the in-place
	// rewired resize path.
	p := newTestPMA(t, 32, 1)

	const n = 20000
	for k := int64(1); k <= n; k++ {
		require.NoError(t, p.Insert(k, k+1))
	}
	require.NoError(t, p.Validate())
	require.Equal(t, n, p.Len())

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.NumSegments, 16)
	assert.Greater(t, stats.ResizesUp, uint64(0))
	assert.Greater(t, stats.Spreads, uint64(0))

	pairs := collect(p)
	require.Len(t, pairs, n)
	for i, pair := range pairs {
		require.Equal(t, int64(i+1), pair.Key)
		require.Equal(t, int64(i+2), pair.Value)
	}

	assert.Equal(t, int64(12346), p.Find(12345))
}

func TestPMA_DirectSpreads(t *testing.T) {
	// Drive both spread strategies explicitly over a rewired array.
	p := newTestPMA(t, 32, 1)

	batch := make([]Pair, 1000)
	for i := range batch {
		batch[i] = Pair{Key: int64(i + 1), Value: int64(-(i + 1))}
	}
	require.NoError(t, p.LoadSorted(batch))
	require.NoError(t, p.Validate())
	require.NotNil(t, p.st.memKeys, "1000 elements at B=32 must be pool-backed")

	windowCard := func(start, length int) int {
		total := 0
		for s := start; s < start+length; s++ {
			total += int(p.st.sizes[s])
		}
		return total
	}

	// In-place two-chunk spread over a small window.
	require.NoError(t, p.spread(windowCard(0, 4), 0, 4, nil))
	require.NoError(t, p.Validate())

	// Rewired spread over the whole array (64 segments = 16 KiB >= extent).
	require.NoError(t, p.spread(windowCard(0, p.st.numSegments), 0, p.st.numSegments, nil))
	require.NoError(t, p.Validate())
	assert.Zero(t, p.st.memKeys.UsedBuffers())
	assert.Zero(t, p.st.memValues.UsedBuffers())

	pairs := collect(p)
	require.Len(t, pairs, len(batch))
	for i, pair := range pairs {
		require.Equal(t, batch[i], pair)
	}
}

func TestPMA_Sum(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	for k := int64(1); k <= 1000; k++ {
		require.NoError(t, p.Insert(k, 2*k))
	}

	sum := p.Sum(100, 199)
	assert.Equal(t, 100, sum.Count)
	assert.Equal(t, int64((100+199)*100/2), sum.SumKeys)
	assert.Equal(t, int64((100+199)*100), sum.SumValues)
	assert.Equal(t, int64(100), sum.FirstKey)
	assert.Equal(t, int64(199), sum.LastKey)

	// Bounds beyond the content clamp to it.
	sum = p.Sum(math.MinInt64, math.MaxInt64)
	assert.Equal(t, 1000, sum.Count)
	assert.Equal(t, int64(1), sum.FirstKey)
	assert.Equal(t, int64(1000), sum.LastKey)

	// Inverted and out-of-range intervals are empty.
	assert.Zero(t, p.Sum(20, 10).Count)
	assert.Zero(t, p.Sum(2000, 3000).Count)
	assert.Zero(t, p.Sum(-100, 0).Count)

	// An interval holding exactly one stored key.
	sum = p.Sum(500, 500)
	assert.Equal(t, 1, sum.Count)
	assert.Equal(t, int64(500), sum.FirstKey)
	assert.Equal(t, int64(500), sum.LastKey)
}

func TestPMA_Iterator(t *testing.T) {
	p := newTestPMA(t, 32, 1)

	for k := int64(10); k <= 1000; k += 10 {
		require.NoError(t, p.Insert(k, k/10))
	}

	var got []int64
	for k := range p.Range(100, 305) {
		got = append(got, k)
	}
	want := []int64{100, 110, 120, 130, 140, 150, 160, 170, 180, 190, 200,
		210, 220, 230, 240, 250, 260, 270, 280, 290, 300}
	assert.Equal(t, want, got)

	// Bounds that fall between stored keys.
	got = got[:0]
	for k := range p.Range(101, 129) {
		got = append(got, k)
	}
	assert.Equal(t, []int64{110, 120}, got)

	// Nothing qualifies.
	count := 0
	for range p.Range(1001, 5000) {
		count++
	}
	assert.Zero(t, count)

	// Early break is honored.
	count = 0
	for range p.All() {
		count++
		if count == 5 {
			break
		}
	}
	assert.Equal(t, 5, count)
}

func TestPMA_MemoryFootprint(t *testing.T) {
	p := newTestPMA(t, 32, 1)
	small := p.MemoryFootprint()
	assert.Greater(t, small, uintptr(0))

	for k := int64(1); k <= 5000; k++ {
		require.NoError(t, p.Insert(k, k))
	}
	assert.Greater(t, p.MemoryFootprint(), small)
}

func TestPMA_Stats(t *testing.T) {
	p := newTestPMA(t, 32, 1)
	for k := int64(1); k <= 200; k++ {
		require.NoError(t, p.Insert(k, k))
	}

	stats := p.Stats()
	assert.Equal(t, 200, stats.Cardinality)
	assert.Equal(t, 32, stats.SegmentCapacity)
	assert.Equal(t, stats.NumSegments*32, stats.Capacity)
	assert.Equal(t, log2(stats.NumSegments)+1, stats.Height)
	assert.LessOrEqual(t, stats.MinSegmentSize, stats.MaxSegmentSize)
	assert.Greater(t, stats.ResizesUp, uint64(0))
}
