package pma

import (
	"iter"
	"math"
)

// Iterator is a lazy forward scan over a key range. Its state is the packed
// cursor (offset, stop) of the current contiguous run plus the next segment
// to visit. It is finite and not restartable.
type Iterator struct {
	p           *PMA
	nextSegment int
	offset      int
	stop        int
	indexMax    int
}

// NewIterator returns an iterator over [keyMin, keyMax].
func (p *PMA) NewIterator(keyMin, keyMax int64) *Iterator {
	if p.Empty() {
		return &Iterator{p: p}
	}
	return newIterator(p, p.index.FindFirst(keyMin), p.index.FindLast(keyMax), keyMin, keyMax)
}

func newIterator(p *PMA, segmentStart, segmentEnd int, keyMin, keyMax int64) *Iterator {
	it := &Iterator{p: p}
	if segmentStart > segmentEnd || segmentEnd >= p.st.numSegments {
		return it
	}

	segCap := p.st.segCap
	keys := p.st.keys

	// Scan forwards for the first key >= keyMin.
	notfound := true
	segment := segmentStart
	even := segment%2 == 0
	var start, stop, offset int
	for notfound && segment < p.st.numSegments {
		if even {
			stop = (segment + 1) * segCap
			start = stop - int(p.st.sizes[segment])
		} else {
			start = segment * segCap
			stop = start + int(p.st.sizes[segment])
		}
		offset = start

		for offset < stop && keys[offset] < keyMin {
			offset++
		}

		notfound = offset == stop
		if notfound {
			segment++
			even = !even
		}
	}

	it.offset = offset
	it.nextSegment = segment + 1
	it.stop = stop
	if even && it.nextSegment < p.st.numSegments {
		// The even segment's run continues into its odd partner.
		it.stop = it.nextSegment*segCap + int(p.st.sizes[it.nextSegment])
		it.nextSegment++
	}

	if notfound || keys[it.offset] > keyMax {
		it.indexMax = 0
		it.stop = 0
		return it
	}

	// Scan backwards from segmentEnd for the last key <= keyMax.
	intervalStart := segment
	segment = segmentEnd
	even = segment%2 == 0
	notfound = true
	for notfound && segment >= intervalStart {
		if even {
			start = (segment+1)*segCap - 1
			stop = start - int(p.st.sizes[segment])
		} else {
			stop = segment * segCap
			start = stop + int(p.st.sizes[segment]) - 1
		}
		offset = start

		for offset >= stop && keys[offset] > keyMax {
			offset--
		}

		notfound = offset < stop
		if notfound {
			segment--
			even = !even
		}
	}

	if offset < it.offset {
		// Nothing qualifies for the interval.
		it.indexMax = 0
		it.stop = 0
	} else {
		it.indexMax = offset + 1
		it.stop = min(it.indexMax, it.stop)
	}
	return it
}

// HasNext reports whether another pair is available.
func (it *Iterator) HasNext() bool {
	return it.offset < it.stop
}

// Next returns the next pair. HasNext must be true.
func (it *Iterator) Next() (key, value int64) {
	key = it.p.st.keys[it.offset]
	value = it.p.st.values[it.offset]

	it.offset++
	if it.offset >= it.stop {
		it.nextSequence()
	}
	return key, value
}

// nextSequence advances the cursor to the next qualifying contiguous run.
func (it *Iterator) nextSequence() {
	segment := it.nextSegment
	if segment >= it.p.st.numSegments {
		return
	}

	segCap := it.p.st.segCap
	if segment%2 == 0 {
		it.offset = segment*segCap + segCap - int(it.p.st.sizes[segment])
		partner := segment + 1
		stop := partner * segCap
		if partner < it.p.st.numSegments {
			it.stop = min(stop+int(it.p.st.sizes[partner]), it.indexMax)
		} else {
			it.stop = min(stop, it.indexMax)
		}
		it.nextSegment += 2
	} else {
		it.offset = segment * segCap
		it.stop = min(it.indexMax, it.offset+int(it.p.st.sizes[segment]))
		it.nextSegment++
	}
}

// Range returns a lazy sequence over all pairs with keyMin <= key <= keyMax,
// in ascending key order.
func (p *PMA) Range(keyMin, keyMax int64) iter.Seq2[int64, int64] {
	return func(yield func(int64, int64) bool) {
		it := p.NewIterator(keyMin, keyMax)
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// All returns a lazy sequence over every stored pair in ascending key order.
func (p *PMA) All() iter.Seq2[int64, int64] {
	return p.Range(math.MinInt64, math.MaxInt64)
}
