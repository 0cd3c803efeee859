package sepindex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_SingleSegment(t *testing.T) {
	x := New(4, 1)
	x.SetSeparatorKey(0, math.MinInt64)

	assert.Equal(t, 0, x.Find(-100))
	assert.Equal(t, 0, x.Find(0))
	assert.Equal(t, 0, x.Find(math.MaxInt64))
}

func TestIndex_Find(t *testing.T) {
	// Separators 10, 20, 30, ..., 80 over eight segments.
	x := New(4, 8)
	for s := 0; s < 8; s++ {
		x.SetSeparatorKey(s, int64(10*(s+1)))
	}

	assert.Equal(t, 0, x.Find(5), "below the minimum maps to segment 0")
	assert.Equal(t, 0, x.Find(10))
	assert.Equal(t, 0, x.Find(19))
	assert.Equal(t, 1, x.Find(20))
	assert.Equal(t, 3, x.Find(45))
	assert.Equal(t, 7, x.Find(80))
	assert.Equal(t, 7, x.Find(1<<40))
}

func TestIndex_FindLargeFanout(t *testing.T) {
	// More segments than one block, so the summary levels are exercised.
	const numSegments = 1024
	x := New(8, numSegments)
	for s := 0; s < numSegments; s++ {
		x.SetSeparatorKey(s, int64(s*100))
	}

	for s := 0; s < numSegments; s++ {
		assert.Equal(t, s, x.Find(int64(s*100)), "exact separator")
		assert.Equal(t, s, x.Find(int64(s*100+99)), "inside the interval")
	}
	assert.Equal(t, 0, x.Find(-1))
}

func TestIndex_FindFirstFindLast(t *testing.T) {
	x := New(4, 8)
	for s := 0; s < 8; s++ {
		x.SetSeparatorKey(s, int64(10*(s+1)))
	}

	// FindFirst stops left of an equal separator, FindLast on it.
	assert.Equal(t, 2, x.FindFirst(40))
	assert.Equal(t, 3, x.FindLast(40))

	assert.Equal(t, 0, x.FindFirst(5))
	assert.Equal(t, 7, x.FindLast(1<<40))
}

func TestIndex_SetSeparatorKeyUpdatesSummaries(t *testing.T) {
	const numSegments = 256
	x := New(4, numSegments)
	for s := 0; s < numSegments; s++ {
		x.SetSeparatorKey(s, int64(s*10))
	}

	// Move segment 0's minimum and make sure lookups still route there.
	x.SetSeparatorKey(0, -500)
	assert.Equal(t, 0, x.Find(-500))
	assert.Equal(t, 0, x.Find(-1))

	// Update a block boundary in the middle.
	x.SetSeparatorKey(64, 639)
	assert.Equal(t, 64, x.Find(639))
	assert.Equal(t, 63, x.Find(638))
}

func TestIndex_Rebuild(t *testing.T) {
	x := New(4, 4)
	for s := 0; s < 4; s++ {
		x.SetSeparatorKey(s, int64(s))
	}

	x.Rebuild(16)
	require.Equal(t, 16, x.NumSegments())
	for s := 0; s < 16; s++ {
		x.SetSeparatorKey(s, int64(s*2))
	}
	assert.Equal(t, 8, x.Find(17))
}

func TestIndex_MemoryFootprint(t *testing.T) {
	small := New(4, 4).MemoryFootprint()
	large := New(4, 4096).MemoryFootprint()
	assert.Greater(t, large, small)
}
