package pma

import (
	"math"

	"github.com/hupe1980/pmago/internal/density"
)

// rebalance restores the density invariant around the given segment after an
// insert into a full segment (pending != nil) or a delete that left the
// segment underfull (pending == nil).
//
// The window search climbs the calibrator tree one level at a time,
// extending the running element count segment by segment on both sides as
// the window doubles. The first window whose density is back within its
// level's bounds is spread; if even the root fails, the array is resized.
func (p *PMA) rebalance(segment int, pending *pendingInsert) error {
	isInsert := pending != nil

	var numElements int
	if isInsert {
		numElements = p.st.segCap + 1
	} else {
		numElements = int(p.st.sizes[segment])
	}

	// Bounds for the degenerate single-segment tree; a full segment always
	// escalates to a resize there.
	lower, upper := 0.0, 1.0
	dens := float64(numElements) / float64(p.st.segCap)
	height := 1

	windowLength := 1
	windowID := segment
	windowStart := segment

	if p.st.height > 1 {
		indexLeft := segment - 1
		indexRight := segment + 1

		for {
			height++
			windowLength *= 2
			windowID /= 2
			windowStart = windowID * windowLength
			windowEnd := windowStart + windowLength
			lower, upper = p.bounds.Thresholds(height)

			for indexLeft >= windowStart {
				numElements += int(p.st.sizes[indexLeft])
				indexLeft--
			}
			for indexRight < windowEnd {
				numElements += int(p.st.sizes[indexRight])
				indexRight++
			}

			dens = float64(numElements) / float64(windowLength*p.st.segCap)

			if !(((isInsert && dens > upper) || (!isInsert && dens < lower)) && height < p.st.height) {
				break
			}
		}
	}

	if (isInsert && dens <= upper) || (!isInsert && dens >= lower) {
		p.logger.Debug("spread",
			"segment", segment, "window_start", windowStart, "window_length", windowLength,
			"height", height, "density", dens)
		return p.spread(numElements, windowStart, windowLength, pending)
	}

	p.logger.Debug("resize",
		"segment", segment, "on_insert", isInsert, "capacity", p.st.capacity, "density", dens)
	return p.resize(pending)
}

// spread redistributes a window so every segment ends up with an even share.
// cardinality counts the elements of the window including a pending insert.
func (p *PMA) spread(cardinality, windowStart, windowLength int, pending *pendingInsert) error {
	p.counters.spreads++

	if p.st.memKeys != nil && windowLength*p.st.segCap*8 >= p.st.memKeys.ExtentSize() {
		p.counters.rewiredSpreads++
		existing := cardinality
		if pending != nil {
			existing--
		}
		s := newRewireSpread(p, windowStart, windowLength, existing)
		if pending != nil {
			s.setPending(pending.key, pending.value)
		}
		return s.execute()
	}

	p.spreadTwoChunk(cardinality, windowStart, windowLength, pending)
	return nil
}

// resize doubles the capacity on insert and halves it on delete, then
// regenerates the cached thresholds for the new tree height.
func (p *PMA) resize(pending *pendingInsert) error {
	isInsert := pending != nil

	var err error
	if isInsert && p.st.memKeys != nil &&
		p.st.numSegments*p.st.segCap*8 >= p.st.memKeys.ExtentSize() {
		err = p.resizeRewire(pending)
	} else {
		err = p.resizeGeneral(pending)
	}
	if err != nil {
		return err
	}

	p.bounds = density.NewBounds(p.st.height)
	return nil
}

// resizeRewire doubles the array in place: the pools grow by fresh extents
// and the rewired spread redistributes the old content over the doubled
// window, right to left.
func (p *PMA) resizeRewire(pending *pendingInsert) error {
	p.counters.resizesUp++

	before := p.st.numSegments
	after := before * 2

	if err := p.st.extend(before); err != nil {
		return err
	}
	p.index.Rebuild(after)

	s := newRewireSpread(p, 0, after, p.st.cardinality)
	if pending != nil {
		s.setPending(pending.key, pending.value)
	}
	s.setStartPosition((before-1)*p.st.segCap + int(p.st.sizes[before-1]))
	return s.execute()
}

// resizeGeneral rebuilds the array into a fresh workspace, streaming the old
// segments into the new even layout and splicing in the pending insert at
// its sorted position.
func (p *PMA) resizeGeneral(pending *pendingInsert) error {
	isInsert := pending != nil
	segCap := p.st.segCap

	var capacity int
	if isInsert {
		capacity = p.st.capacity * 2
		p.counters.resizesUp++
	} else {
		capacity = p.st.capacity / 2
		p.counters.resizesDown++
	}

	numSegments := capacity / segCap
	elementsPerSegment := p.st.cardinality / numSegments
	oddSegments := p.st.cardinality % numSegments

	ws, err := p.st.allocWorkspace(numSegments)
	if err != nil {
		return err
	}
	old := p.st.adopt(ws)
	defer old.release()

	oldNumSegments := p.st.numSegments
	xKeys, xValues, xSizes := p.st.keys, p.st.values, p.st.sizes

	p.index.Rebuild(numSegments)

	// Locate the first non-empty input segment. A delete can leave a single
	// empty segment behind; the skip loop also shields against more.
	inputSegment := 0
	inputOdd := false
	for inputSegment < oldNumSegments && old.sizes[inputSegment] == 0 {
		inputSegment++
		inputOdd = !inputOdd
	}
	inputSize := 0
	inputOff := 0
	if inputSegment < oldNumSegments {
		inputSize = int(old.sizes[inputSegment])
		if inputOdd {
			inputOff = inputSegment * segCap
		} else {
			inputOff = (inputSegment+1)*segCap - inputSize
		}
	}

	advance := func() {
		inputSegment++
		inputOdd = !inputOdd
		for inputSegment < oldNumSegments && old.sizes[inputSegment] == 0 {
			inputSegment++
			inputOdd = !inputOdd
		}
		if inputSegment < oldNumSegments {
			inputSize = int(old.sizes[inputSegment])
			if inputOdd {
				inputOff = inputSegment * segCap
			} else {
				inputOff = (inputSegment+1)*segCap - inputSize
			}
		}
	}

	pend := pending
	lastKey := int64(math.MinInt64)
	outputOdd := false
	for j := 0; j < numSegments; j++ {
		toCopy := elementsPerSegment + b2i(j < oddSegments)
		written := toCopy

		var outOff int
		if outputOdd {
			outOff = j * segCap
		} else {
			outOff = (j+1)*segCap - toCopy
		}
		xSizes[j] = uint16(toCopy)

		if toCopy > 0 {
			p.index.SetSeparatorKey(j, old.keys[inputOff])
		} else {
			p.index.SetSeparatorKey(j, lastKey)
		}

		for toCopy > 0 {
			n := min(toCopy, inputSize)
			copy(xKeys[outOff:outOff+n], old.keys[inputOff:inputOff+n])
			copy(xValues[outOff:outOff+n], old.values[inputOff:inputOff+n])
			outOff += n
			inputOff += n
			inputSize -= n
			if inputSize == 0 {
				advance()
			}
			toCopy -= n
		}
		if written > 0 {
			lastKey = xKeys[outOff-1]
		}

		if pend != nil && written > 0 && pend.key < xKeys[outOff-1] {
			if p.insertWithin(j, pend.key, pend.value) {
				p.index.SetSeparatorKey(j, pend.key)
			}
			pend = nil
		}

		outputOdd = !outputOdd
	}

	// Larger than everything seen: the pending element goes last.
	if pend != nil {
		if p.insertWithin(numSegments-1, pend.key, pend.value) {
			p.index.SetSeparatorKey(numSegments-1, pend.key)
		}
	}

	p.st.capacity = capacity
	p.st.numSegments = numSegments
	p.st.height = log2(numSegments) + 1
	return nil
}
