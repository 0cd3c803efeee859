package pma

// Sum aggregates count, key sum, value sum, and the boundary keys of the
// range [keyMin, keyMax] without materializing any pairs. The cursor walk
// mirrors the iterator construction.
func (p *PMA) Sum(keyMin, keyMax int64) SumResult {
	var res SumResult
	if keyMin > keyMax || p.Empty() {
		return res
	}

	segmentStart := p.index.FindFirst(keyMin)
	segmentEnd := p.index.FindLast(keyMax)
	if segmentEnd < segmentStart {
		return res
	}

	segCap := p.st.segCap
	numSegments := p.st.numSegments
	keys := p.st.keys

	// Start of the interval.
	notfound := true
	segment := segmentStart
	even := segment%2 == 0
	var start, stop, offset int
	for notfound && segment < numSegments {
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

	if even && segment < numSegments-1 {
		// The even segment's run continues into its odd partner.
		stop = (segment+1)*segCap + int(p.st.sizes[segment+1])
	}

	if notfound || keys[offset] > keyMax {
		return res
	}

	// End of the interval.
	var end int
	{
		intervalStart := segment
		segment := segmentEnd
		even := segment%2 == 0
		notfound := true
		var innerStart, innerStop, innerOffset int
		for notfound && segment >= intervalStart {
			if even {
				innerStart = (segment+1)*segCap - 1
				innerStop = innerStart - int(p.st.sizes[segment])
			} else {
				innerStop = segment * segCap
				innerStart = innerStop + int(p.st.sizes[segment]) - 1
			}
			innerOffset = innerStart

			for innerOffset >= innerStop && keys[innerOffset] > keyMax {
				innerOffset--
			}

			notfound = innerOffset < innerStop
			if notfound {
				segment--
				even = !even
			}
		}
		end = innerOffset + 1
	}

	if end <= offset {
		return res
	}
	stop = min(stop, end)

	values := p.st.values
	res.FirstKey = keys[offset]

	for offset < end {
		res.Count += stop - offset
		for offset < stop {
			res.SumKeys += keys[offset]
			res.SumValues += values[offset]
			offset++
		}

		// Jump to the next even segment's contiguous pair run.
		segment += 1 + b2i(segment%2 == 0)
		if segment < numSegments {
			lhs := int(p.st.sizes[segment])
			rhs := int(p.st.sizes[segment+1])
			offset = (segment+1)*segCap - lhs
			stop = min(end, offset+lhs+rhs)
		}
	}
	res.LastKey = keys[end-1]

	return res
}
