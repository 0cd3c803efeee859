package pma

import (
	"fmt"
	"os"

	"github.com/hupe1980/pmago/internal/mem"
	"github.com/hupe1980/pmago/internal/rewire"
)

// Virtual reservation caps for the rewired pools. Reserving address space is
// free; physical extents are wired in on demand.
const (
	keyPoolMaxMemory  = 1 << 36
	sizePoolMaxMemory = keyPoolMaxMemory / 4
)

// storage owns the sparse arrays of the PMA: the parallel key/value arrays,
// the per-segment cardinality array, and the memory backing all three.
//
// Small workspaces use plain aligned heap allocations. Once the element
// arrays span at least one rewiring extent they are carried by rewire pools,
// which unlocks the rewired rebalancing strategies and in-place growth.
type storage struct {
	keys   []int64
	values []int64
	sizes  []uint16

	memKeys   *rewire.Pool
	memValues *rewire.Pool
	memSizes  *rewire.Pool

	segCap         int // max elements per segment, power of two
	pagesPerExtent int
	pageSize       int

	cardinality int
	capacity    int
	numSegments int
	height      int
}

// workspace bundles freshly allocated arrays with their backing so a resize
// can swap the whole set atomically and release the previous one afterwards.
type workspace struct {
	keys   []int64
	values []int64
	sizes  []uint16

	memKeys   *rewire.Pool
	memValues *rewire.Pool
	memSizes  *rewire.Pool
}

func (ws *workspace) release() {
	if ws.memKeys != nil {
		_ = ws.memKeys.Close()
		ws.memKeys = nil
	}
	if ws.memValues != nil {
		_ = ws.memValues.Close()
		ws.memValues = nil
	}
	if ws.memSizes != nil {
		_ = ws.memSizes.Close()
		ws.memSizes = nil
	}
	ws.keys = nil
	ws.values = nil
	ws.sizes = nil
}

func (st *storage) extentSize() int {
	return st.pagesPerExtent * st.pageSize
}

// allocWorkspace allocates the arrays for numSegments segments. On any
// failure every partial allocation is released before returning.
func (st *storage) allocWorkspace(numSegments int) (workspace, error) {
	extentSize := st.extentSize()
	eltsBytes := numSegments * st.segCap * 8
	cardEntries := max(2, numSegments)

	var ws workspace
	if eltsBytes >= extentSize {
		numExtents := eltsBytes / extentSize
		cardExtents := max(1, cardEntries*2/extentSize)

		var err error
		if ws.memKeys, err = rewire.New(st.pagesPerExtent, numExtents, keyPoolMaxMemory); err != nil {
			return workspace{}, fmt.Errorf("pma: allocate key workspace: %w", err)
		}
		if ws.memValues, err = rewire.New(st.pagesPerExtent, numExtents, keyPoolMaxMemory); err != nil {
			ws.release()
			return workspace{}, fmt.Errorf("pma: allocate value workspace: %w", err)
		}
		if ws.memSizes, err = rewire.New(st.pagesPerExtent, cardExtents, sizePoolMaxMemory); err != nil {
			ws.release()
			return workspace{}, fmt.Errorf("pma: allocate cardinality workspace: %w", err)
		}

		ws.keys = mem.Int64Slice(ws.memKeys.Bytes())
		ws.values = mem.Int64Slice(ws.memValues.Bytes())
		ws.sizes = mem.Uint16Slice(ws.memSizes.Bytes())
	} else {
		ws.keys = mem.AllocAlignedInt64(numSegments * st.segCap)
		ws.values = mem.AllocAlignedInt64(numSegments * st.segCap)
		ws.sizes = mem.AllocAlignedUint16(cardEntries)
	}

	// A sentinel segment is always present so the resize merge can walk
	// segment pairs without special-casing a single-segment array.
	ws.sizes[1] = 0

	return ws, nil
}

// adopt installs ws as the live workspace and returns the previous one. The
// scalar geometry is left untouched; resizes update it once the migration is
// complete.
func (st *storage) adopt(ws workspace) workspace {
	old := workspace{
		keys: st.keys, values: st.values, sizes: st.sizes,
		memKeys: st.memKeys, memValues: st.memValues, memSizes: st.memSizes,
	}
	st.keys, st.values, st.sizes = ws.keys, ws.values, ws.sizes
	st.memKeys, st.memValues, st.memSizes = ws.memKeys, ws.memValues, ws.memSizes
	return old
}

// extend grows the arrays in place by addSegments segments. Only available
// when the storage is carried by rewire pools.
func (st *storage) extend(addSegments int) error {
	extentSize := st.extentSize()
	bytesPerSegment := st.segCap * 8
	before := st.numSegments
	after := before + addSegments

	eltsCurrent := ceilDiv(before*bytesPerSegment, extentSize)
	eltsTotal := ceilDiv(after*bytesPerSegment, extentSize)
	if k := eltsTotal - eltsCurrent; k > 0 {
		if err := st.memKeys.Extend(k); err != nil {
			return fmt.Errorf("pma: extend key array: %w", err)
		}
		if err := st.memValues.Extend(k); err != nil {
			return fmt.Errorf("pma: extend value array: %w", err)
		}
	}

	sizesCurrent := ceilDiv(before*2, extentSize)
	sizesTotal := ceilDiv(after*2, extentSize)
	if k := sizesTotal - sizesCurrent; k > 0 {
		if err := st.memSizes.Extend(k); err != nil {
			return fmt.Errorf("pma: extend cardinality array: %w", err)
		}
	}

	st.keys = mem.Int64Slice(st.memKeys.Bytes())
	st.values = mem.Int64Slice(st.memValues.Bytes())
	st.sizes = mem.Uint16Slice(st.memSizes.Bytes())

	st.numSegments = after
	st.capacity = after * st.segCap
	st.height = log2(after) + 1
	return nil
}

// minimum returns the smallest key stored in the given segment. The segment
// must not be empty.
func (st *storage) minimum(segment int) int64 {
	if segment%2 == 0 {
		return st.keys[(segment+1)*st.segCap-int(st.sizes[segment])]
	}
	return st.keys[segment*st.segCap]
}

func (st *storage) free() {
	ws := workspace{
		keys: st.keys, values: st.values, sizes: st.sizes,
		memKeys: st.memKeys, memValues: st.memValues, memSizes: st.memSizes,
	}
	ws.release()
	st.keys, st.values, st.sizes = nil, nil, nil
	st.memKeys, st.memValues, st.memSizes = nil, nil, nil
}

func newStorage(segCap, pagesPerExtent int) (storage, error) {
	st := storage{
		segCap:         segCap,
		pagesPerExtent: pagesPerExtent,
		pageSize:       os.Getpagesize(),
		capacity:       segCap,
		numSegments:    1,
		height:         1,
	}

	ws, err := st.allocWorkspace(1)
	if err != nil {
		return storage{}, err
	}
	st.adopt(ws)
	return st, nil
}
