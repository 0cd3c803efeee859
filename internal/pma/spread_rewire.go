package pma

import (
	"fmt"

	"github.com/hupe1980/pmago/internal/mem"
)

// extentBuffer is a scratch extent scheduled for its commit swap.
type extentBuffer struct {
	extent int // extent id relative to the window
	keys   []byte
	values []byte
}

// rewireSpread redistributes a window spanning one or more rewiring extents.
//
// The window is processed extent by extent from right to left. Each extent
// receives its even share of elements, written pair by pair from the back.
// While the read cursor still sits inside the extent being written, the
// writes go to a scratch extent acquired from the pools; once the cursor has
// left an extent, the scratch pages are committed by swapping their physical
// backing into place. Extents the cursor has already left entirely are
// written directly.
//
// cardinality counts the elements the spread distributes: for a point
// rebalance the elements currently stored in the window (a pending insert is
// placed afterwards by updateIndex), for a bulk load the stored elements
// plus the batch, which is merged into the stream in descending order.
type rewireSpread struct {
	p                 *PMA
	windowStart       int
	windowLength      int
	cardinality       int
	segmentsPerExtent int

	batch         []Pair // bulk-load input; nil for point rebalances
	batchPosition int    // index of the last unread batch element

	hasPending               bool
	pendingKey, pendingValue int64

	position int // one past the last unread element of the window

	toRewire []extentBuffer
}

func newRewireSpread(p *PMA, windowStart, windowLength, cardinality int) *rewireSpread {
	s := &rewireSpread{
		p:                 p,
		windowStart:       windowStart,
		windowLength:      windowLength,
		cardinality:       cardinality,
		segmentsPerExtent: p.st.memKeys.ExtentSize() / (p.st.segCap * 8),
	}
	windowEnd := windowStart + windowLength - 1
	s.position = windowEnd*p.st.segCap + int(p.st.sizes[windowEnd])
	return s
}

func newRewireSpreadBulk(p *PMA, windowStart, windowLength, cardinality int, batch []Pair) *rewireSpread {
	s := newRewireSpread(p, windowStart, windowLength, cardinality)
	s.batch = batch
	s.batchPosition = len(batch) - 1
	return s
}

func (s *rewireSpread) setPending(key, value int64) {
	s.hasPending = true
	s.pendingKey = key
	s.pendingValue = value
}

// setStartPosition overrides the read cursor; resizes point it at the end of
// the content laid out under the old, smaller segment count.
func (s *rewireSpread) setStartPosition(position int) {
	s.position = position
}

func (s *rewireSpread) position2segment(position int) int {
	return floorDiv(position, s.p.st.segCap)
}

func (s *rewireSpread) position2extent(position int) int {
	segment := s.position2segment(position - s.windowStart*s.p.st.segCap)
	return floorDiv(segment, s.segmentsPerExtent)
}

// currentExtent returns the extent, relative to the window, holding the last
// unread element. Negative once the window input is depleted.
func (s *rewireSpread) currentExtent() int {
	return s.position2extent(s.position - 1)
}

// extentOffset returns the element index where the given relative extent
// starts.
func (s *rewireSpread) extentOffset(extent int) int {
	return s.windowStart*s.p.st.segCap + extent*s.segmentsPerExtent*s.p.st.segCap
}

// reclaimPastExtents commits every scheduled scratch extent the read cursor
// has fully left, returning its slot to the pool.
func (s *rewireSpread) reclaimPastExtents() error {
	current := s.currentExtent()
	for len(s.toRewire) > 0 && s.toRewire[0].extent > current {
		buf := s.toRewire[0]
		s.toRewire = s.toRewire[1:]

		off := s.extentOffset(buf.extent)
		ext := s.p.st.memKeys.ExtentSize() / 8

		activeKeys := s.p.st.memKeys.Bytes()[off*8 : (off+ext)*8]
		if err := s.p.st.memKeys.SwapAndRelease(activeKeys, buf.keys); err != nil {
			return err
		}
		activeValues := s.p.st.memValues.Bytes()[off*8 : (off+ext)*8]
		if err := s.p.st.memValues.SwapAndRelease(activeValues, buf.values); err != nil {
			return err
		}
	}
	return nil
}

func (s *rewireSpread) spreadExtent(extent, numElements int) error {
	useRewiring := s.currentExtent() >= extent

	if !useRewiring {
		// The source cursor has left this extent; write the live pages.
		off := s.extentOffset(extent)
		length := s.segmentsPerExtent * s.p.st.segCap
		s.spreadElements(
			s.p.st.keys[off:off+length],
			s.p.st.values[off:off+length],
			numElements)
	} else {
		bufKeys, err := s.p.st.memKeys.AcquireBuffer()
		if err != nil {
			return err
		}
		bufValues, err := s.p.st.memValues.AcquireBuffer()
		if err != nil {
			return err
		}
		s.toRewire = append(s.toRewire, extentBuffer{extent: extent, keys: bufKeys, values: bufValues})
		s.spreadElements(mem.Int64Slice(bufKeys), mem.Int64Slice(bufValues), numElements)
	}

	return s.reclaimPastExtents()
}

// spreadElements writes numElements into the destination extent, filling
// segment pairs from the back. The source is the window's packed content,
// read right to left, merged with the batch for bulk loads.
func (s *rewireSpread) spreadElements(destKeys, destValues []int64, numElements int) {
	if s.batch != nil {
		s.mergeElements(destKeys, destValues, numElements)
		return
	}

	segCap := s.p.st.segCap
	keys, values, sizes := s.p.st.keys, s.p.st.values, s.p.st.sizes

	elementsPerSegment := numElements / s.segmentsPerExtent
	oddSegments := numElements % s.segmentsPerExtent

	inSeg := floorDiv(s.position-1, 2*segCap) * 2 // even segment
	inOff := inSeg*segCap + segCap - int(sizes[inSeg])
	inRun := s.position - inOff

	for outSeg := s.segmentsPerExtent - 2; outSeg >= 0; outSeg -= 2 {
		lhs := elementsPerSegment + b2i(outSeg < oddSegments)
		rhs := elementsPerSegment + b2i(outSeg+1 < oddSegments)
		outRun := lhs + rhs
		outOff := outSeg*segCap + (segCap - lhs)

		for outRun > 0 {
			n := min(outRun, inRun)
			copy(destKeys[outOff+outRun-n:outOff+outRun], keys[inOff+inRun-n:inOff+inRun])
			copy(destValues[outOff+outRun-n:outOff+outRun], values[inOff+inRun-n:inOff+inRun])
			inRun -= n
			outRun -= n

			if inRun == 0 {
				// Jump to the previous pair's contiguous run.
				inSeg -= 2
				if inSeg >= s.windowStart {
					inRun = int(sizes[inSeg]) + int(sizes[inSeg+1])
					inOff = inSeg*segCap + segCap - int(sizes[inSeg])
				} else {
					inOff = s.windowStart * segCap
				}
			}
		}
	}

	s.position = inOff + inRun
}

// mergeElements is the bulk-load variant: the window content and the batch
// are merged element by element, both consumed in descending order.
func (s *rewireSpread) mergeElements(destKeys, destValues []int64, numElements int) {
	segCap := s.p.st.segCap
	keys, values, sizes := s.p.st.keys, s.p.st.values, s.p.st.sizes

	elementsPerSegment := numElements / s.segmentsPerExtent
	oddSegments := numElements % s.segmentsPerExtent

	in1Seg := floorDiv(s.position-1, 2*segCap) * 2
	in1Off := 0
	in1Idx := -1
	if in1Seg >= s.windowStart {
		in1Off = in1Seg*segCap + segCap - int(sizes[in1Seg])
		in1Idx = s.position - in1Off - 1
	}

	fetchPrevRun := func() {
		if in1Idx < 0 && in1Seg > s.windowStart {
			in1Seg -= 2
			run := int(sizes[in1Seg]) + int(sizes[in1Seg+1])
			in1Off = in1Seg*segCap + segCap - int(sizes[in1Seg])
			in1Idx = run - 1
		}
	}

	in2Idx := s.batchPosition

	for outSeg := s.segmentsPerExtent - 2; outSeg >= 0; outSeg -= 2 {
		lhs := elementsPerSegment + b2i(outSeg < oddSegments)
		rhs := elementsPerSegment + b2i(outSeg+1 < oddSegments)
		outRun := lhs + rhs
		outOff := outSeg*segCap + (segCap - lhs)
		k := outRun - 1

		for k >= 0 && in1Idx >= 0 && in2Idx >= 0 {
			if keys[in1Off+in1Idx] > s.batch[in2Idx].Key {
				destKeys[outOff+k] = keys[in1Off+in1Idx]
				destValues[outOff+k] = values[in1Off+in1Idx]
				in1Idx--
				fetchPrevRun()
			} else {
				destKeys[outOff+k] = s.batch[in2Idx].Key
				destValues[outOff+k] = s.batch[in2Idx].Value
				in2Idx--
			}
			k--
		}

		for k >= 0 && in1Idx >= 0 {
			destKeys[outOff+k] = keys[in1Off+in1Idx]
			destValues[outOff+k] = values[in1Off+in1Idx]
			in1Idx--
			fetchPrevRun()
			k--
		}

		for k >= 0 && in2Idx >= 0 {
			destKeys[outOff+k] = s.batch[in2Idx].Key
			destValues[outOff+k] = s.batch[in2Idx].Value
			in2Idx--
			k--
		}
	}

	if in1Idx >= 0 {
		s.position = in1Off + in1Idx + 1
	} else {
		s.position = -1 // depleted
	}
	s.batchPosition = in2Idx
}

func (s *rewireSpread) updateSegmentSizes() {
	numExtents := s.windowLength / s.segmentsPerExtent
	elementsPerExtent := s.cardinality / numExtents
	oddExtents := s.cardinality % numExtents

	segment := s.windowStart
	for i := 0; i < numExtents; i++ {
		extentCardinality := elementsPerExtent + b2i(i < oddExtents)

		elementsPerSegment := extentCardinality / s.segmentsPerExtent
		oddSegments := extentCardinality % s.segmentsPerExtent
		for j := 0; j < s.segmentsPerExtent; j++ {
			s.p.st.sizes[segment] = uint16(elementsPerSegment + b2i(j < oddSegments))
			segment++
		}
	}
}

func (s *rewireSpread) insertPending(segment int) {
	s.p.insertWithin(segment, s.pendingKey, s.pendingValue)
	s.hasPending = false
}

// updateIndex republishes the separator of every window segment and, for a
// point rebalance, drops the pending element into the segment preceding the
// first larger minimum.
func (s *rewireSpread) updateIndex() {
	if s.batch != nil {
		for i := 0; i < s.windowLength; i++ {
			segment := s.windowStart + i
			s.p.index.SetSeparatorKey(segment, s.p.st.minimum(segment))
		}
		return
	}

	segment := s.windowStart
	for i := 0; i < s.windowLength; i++ {
		minimum := s.p.st.minimum(segment)

		if s.hasPending && s.pendingKey < minimum {
			if i > 0 {
				s.insertPending(segment - 1)
			} else {
				minimum = s.pendingKey
				s.insertPending(segment)
			}
		}

		s.p.index.SetSeparatorKey(segment, minimum)
		segment++
	}

	if s.hasPending {
		s.insertPending(s.windowStart + s.windowLength - 1)
	}
}

func (s *rewireSpread) execute() error {
	numExtents := s.windowLength / s.segmentsPerExtent
	elementsPerExtent := s.cardinality / numExtents
	oddExtents := s.cardinality % numExtents

	for e := numExtents - 1; e >= 0; e-- {
		if err := s.spreadExtent(e, elementsPerExtent+b2i(e < oddExtents)); err != nil {
			return err
		}
	}

	if n := s.p.st.memKeys.UsedBuffers() + s.p.st.memValues.UsedBuffers(); n != 0 {
		return fmt.Errorf("pma: %d scratch buffers still in flight after spread", n)
	}

	s.updateSegmentSizes()
	s.updateIndex()
	return nil
}
