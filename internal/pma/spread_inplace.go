package pma

// spliceInsert copies n sorted elements from src to dst while inserting the
// pending pair at its sorted position, producing n+1 elements. The prefix
// before the insertion point is copied forwards element by element, so the
// source and destination may overlap only if dst does not start after src.
func (p *PMA) spliceInsert(srcKeys, srcValues, dstKeys, dstValues []int64, n int, key, value int64) {
	i := 0
	for i < n && srcKeys[i] < key {
		dstKeys[i] = srcKeys[i]
		dstValues[i] = srcValues[i]
		i++
	}
	dstKeys[i] = key
	dstValues[i] = value

	copy(dstKeys[i+1:n+1], srcKeys[i:n])
	copy(dstValues[i+1:n+1], srcValues[i:n])

	p.st.cardinality++
}

// spreadTwoChunk rebalances a window that fits under one rewiring extent,
// entirely in place. cardinality includes the pending insert.
//
// Phase 1 compacts every segment pair towards the end: the rightmost two
// pairs land in a side buffer ("chunk2", 4B+1 slots), the rest are packed
// against the tail of the window itself ("chunk1"). The side buffer is what
// guarantees the left-to-right redistribution of phase 3 never overtakes its
// own unread input. A pending insert is spliced into the stream when its
// pair is copied.
func (p *PMA) spreadTwoChunk(cardinality, windowStart, windowLength int, pending *pendingInsert) {
	segCap := p.st.segCap
	base := windowStart * segCap

	sz := p.st.sizes[windowStart : windowStart+windowLength]
	oKeys := p.st.keys[base : base+windowLength*segCap]
	oValues := p.st.values[base : base+windowLength*segCap]

	insertSeg := -1
	if pending != nil {
		insertSeg = pending.segment - windowStart
	}

	chunk2Cap := 4*segCap + 1
	c2Keys := p.chunkKeys[:chunk2Cap]
	c2Values := p.chunkValues[:chunk2Cap]

	// 1) compact towards the end
	outSeg := windowLength - 2
	outStart := (outSeg+1)*segCap - int(sz[outSeg])
	outEnd := outStart + int(sz[outSeg]) + int(sz[outSeg+1])

	copied := 0
	c2Left := chunk2Cap
	for outSeg >= 0 && copied < 4 {
		n := outEnd - outStart
		if insertSeg == outSeg || insertSeg == outSeg+1 {
			p.spliceInsert(oKeys[outStart:], oValues[outStart:],
				c2Keys[c2Left-n-1:], c2Values[c2Left-n-1:],
				n, pending.key, pending.value)
			c2Left--
		} else {
			copy(c2Keys[c2Left-n:c2Left], oKeys[outStart:outStart+n])
			copy(c2Values[c2Left-n:c2Left], oValues[outStart:outStart+n])
		}
		c2Left -= n

		outSeg -= 2
		if outSeg >= 0 {
			outStart = (outSeg+1)*segCap - int(sz[outSeg])
			outEnd = outStart + int(sz[outSeg]) + int(sz[outSeg+1])
		}
		copied += 2
	}

	chunk2Keys := c2Keys[c2Left:]
	chunk2Values := c2Values[c2Left:]
	chunk2Size := chunk2Cap - c2Left

	c1Cur := windowLength * segCap
	for outSeg >= 0 {
		n := outEnd - outStart
		if insertSeg == outSeg || insertSeg == outSeg+1 {
			p.spliceInsert(oKeys[outStart:], oValues[outStart:],
				oKeys[c1Cur-n-1:], oValues[c1Cur-n-1:],
				n, pending.key, pending.value)
			c1Cur--
		} else {
			copy(oKeys[c1Cur-n:c1Cur], oKeys[outStart:outStart+n])
			copy(oValues[c1Cur-n:c1Cur], oValues[outStart:outStart+n])
		}
		c1Cur -= n

		outSeg -= 2
		if outSeg >= 0 {
			outStart = (outSeg+1)*segCap - int(sz[outSeg])
			outEnd = outStart + int(sz[outSeg]) + int(sz[outSeg+1])
		}
	}

	chunk1Keys := oKeys[c1Cur:]
	chunk1Values := oValues[c1Cur:]
	chunk1Size := windowLength*segCap - c1Cur

	// 2) target size of every segment; the remainder goes to the leftmost
	elementsPerSegment := cardinality / windowLength
	oddSegments := cardinality % windowLength
	for i := 0; i < windowLength; i++ {
		sz[i] = uint16(elementsPerSegment + b2i(i < oddSegments))
	}

	// 3) redistribute left to right, draining chunk1 before chunk2: phase 1
	// left chunk1 holding the leftmost elements of the window
	inKeys, inValues := chunk1Keys, chunk1Values
	inSize := chunk1Size
	usingChunk1 := true
	if chunk1Size == 0 {
		inKeys, inValues = chunk2Keys, chunk2Values
		inSize = chunk2Size
		usingChunk1 = false
	}
	inCur := 0

	for i := 0; i < windowLength; i += 2 {
		pairStart := (i+1)*segCap - int(sz[i])
		pairEnd := pairStart + int(sz[i]) + int(sz[i+1])
		outCur := pairStart

		for outCur < pairEnd {
			n := min(pairEnd-outCur, inSize-inCur)
			copy(oKeys[outCur:outCur+n], inKeys[inCur:inCur+n])
			copy(oValues[outCur:outCur+n], inValues[inCur:inCur+n])
			outCur += n
			inCur += n

			if inCur == inSize && usingChunk1 {
				inKeys, inValues = chunk2Keys, chunk2Values
				inSize = chunk2Size
				inCur = 0
				usingChunk1 = false
			}
		}

		p.index.SetSeparatorKey(windowStart+i, oKeys[pairStart])
		p.index.SetSeparatorKey(windowStart+i+1, oKeys[pairStart+int(sz[i])])
	}
}
