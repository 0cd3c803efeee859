package sepindex

import (
	"unsafe"
)

// Index maps a key to the segment whose separator interval contains it.
type Index struct {
	blockSize int

	// keys holds one separator per segment: the minimum key currently stored
	// in that segment.
	keys []int64

	// summaries[l] holds the first separator of every block of the level
	// below (summaries[0] summarizes keys). The topmost level fits in a
	// single block.
	summaries [][]int64
}

// New creates an index for numSegments segments with the given branching
// factor. blockSize values below 2 are clamped to 2.
func New(blockSize, numSegments int) *Index {
	if blockSize < 2 {
		blockSize = 2
	}
	x := &Index{blockSize: blockSize}
	x.Rebuild(numSegments)
	return x
}

// Rebuild resets the index to numSegments segments. All separators are
// undefined until the caller publishes them with SetSeparatorKey.
func (x *Index) Rebuild(numSegments int) {
	if numSegments < 1 {
		numSegments = 1
	}
	x.keys = make([]int64, numSegments)
	x.summaries = x.summaries[:0]

	for length := numSegments; length > x.blockSize; {
		length = (length + x.blockSize - 1) / x.blockSize
		x.summaries = append(x.summaries, make([]int64, length))
	}
}

// NumSegments returns the number of segments the index currently routes to.
func (x *Index) NumSegments() int { return len(x.keys) }

// SetSeparatorKey records key as the minimum of the given segment.
func (x *Index) SetSeparatorKey(segment int, key int64) {
	x.keys[segment] = key

	idx := segment
	for l := 0; l < len(x.summaries) && idx%x.blockSize == 0; l++ {
		idx /= x.blockSize
		x.summaries[l][idx] = key
	}
}

// SeparatorKey returns the separator recorded for the given segment.
func (x *Index) SeparatorKey(segment int) int64 { return x.keys[segment] }

// Find returns the unique segment whose separator is <= key while the next
// separator is > key. Keys below the global minimum map to segment 0.
func (x *Index) Find(key int64) int {
	return x.search(key, false)
}

// FindFirst returns the leftmost segment that may contain keys >= key. It is
// the entry point for ascending range scans.
func (x *Index) FindFirst(key int64) int {
	return x.search(key, true)
}

// FindLast returns the rightmost segment that may contain keys <= key. It is
// the end bound for range scans.
func (x *Index) FindLast(key int64) int {
	return x.search(key, false)
}

// search descends the summary stack. With strict set, separators equal to key
// do not advance the cursor, which biases the result to the leftmost segment
// of a run of equal separators.
func (x *Index) search(key int64, strict bool) int {
	pos := 0
	for l := len(x.summaries) - 1; l >= -1; l-- {
		var arr []int64
		if l >= 0 {
			arr = x.summaries[l]
		} else {
			arr = x.keys
		}

		lo := pos * x.blockSize
		hi := lo + x.blockSize
		if hi > len(arr) {
			hi = len(arr)
		}

		j := lo
		if strict {
			for j+1 < hi && arr[j+1] < key {
				j++
			}
		} else {
			for j+1 < hi && arr[j+1] <= key {
				j++
			}
		}
		pos = j
	}
	return pos
}

// MemoryFootprint returns the number of bytes retained by the index.
func (x *Index) MemoryFootprint() uintptr {
	total := unsafe.Sizeof(*x)
	total += uintptr(len(x.keys)) * 8
	for _, s := range x.summaries {
		total += uintptr(len(s)) * 8
	}
	return total
}
