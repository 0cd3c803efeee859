package pma

import (
	"math"

	"github.com/hupe1980/pmago/internal/density"
)

// bulkRun is a maximal slice of the batch whose keys all land in the same
// segment, later widened to the window that can absorb it.
type bulkRun struct {
	start  int // first batch index of the run
	length int

	windowStart  int
	windowLength int
	cardinality  int // window content plus the run (plus fused siblings)

	valid bool
}

// LoadSorted merges a batch of pairs, sorted ascending by key, into the
// array. An error can only arise from an allocation failure.
func (p *PMA) LoadSorted(batch []Pair) error {
	if len(batch) == 0 {
		return nil
	}

	if p.Empty() {
		return p.loadEmpty(batch)
	}

	runs := p.loadGenerateRuns(batch)
	if p.loadFuseRuns(runs) {
		// Even the whole array cannot absorb some run: rebuild at the next
		// power-of-two capacity instead.
		return p.loadResize(batch)
	}
	return p.loadSpread(batch, runs)
}

// loadGenerateRuns partitions the batch into per-segment runs. Each run is
// bounded above by the separator of the following segment.
func (p *PMA) loadGenerateRuns(batch []Pair) []bulkRun {
	var runs []bulkRun

	i := 0
	for i < len(batch) {
		segment := p.index.FindFirst(batch[i].Key)

		maxKey := int64(math.MaxInt64)
		if segment+1 < p.st.numSegments {
			maxKey = p.st.minimum(segment + 1)
		}

		run := bulkRun{start: i, length: 1, windowStart: segment, windowLength: 1, valid: true}
		i++
		for i < len(batch) && batch[i].Key <= maxKey {
			run.length++
			i++
		}

		run.cardinality = int(p.st.sizes[segment]) + run.length
		runs = append(runs, run)
	}

	return runs
}

// loadFuseRuns widens each run's window by climbing the calibrator tree
// until the density fits, absorbing sibling runs that fall inside the
// window. It reports whether the whole array must be resized instead.
func (p *PMA) loadFuseRuns(runs []bulkRun) bool {
	sizes := p.st.sizes

	for i := range runs {
		if !runs[i].valid {
			continue
		}
		run := &runs[i]

		segment := run.windowStart
		numElements := run.cardinality
		upper := density.UpperLeaves()
		dens := float64(numElements) / float64(p.st.segCap)
		height := 1

		windowLength := 1
		windowID := segment
		windowStart := segment

		if p.st.height > 1 && dens > upper {
			windexLeft := segment - 1
			windexRight := segment + 1

			// Nearest valid runs on either side, tracked by the window edge
			// where they would be absorbed.
			sindexLeft, sindexRight := i-1, i+1
			srunLeft, srunRight := -1, -1
			for sindexLeft >= 0 && srunLeft < 0 {
				if runs[sindexLeft].valid {
					srunLeft = runs[sindexLeft].windowStart + runs[sindexLeft].windowLength - 1
				} else {
					sindexLeft--
				}
			}
			for sindexRight < len(runs) && srunRight < 0 {
				if runs[sindexRight].valid {
					srunRight = runs[sindexRight].windowStart
				} else {
					sindexRight++
				}
			}

			for {
				height++
				windowLength *= 2
				windowID /= 2
				windowStart = windowID * windowLength
				windowEnd := windowStart + windowLength
				_, upper = p.bounds.Thresholds(height)

				for windexLeft >= windowStart {
					if windexLeft == srunLeft {
						numElements += runs[sindexLeft].cardinality
						run.start = runs[sindexLeft].start
						run.length += runs[sindexLeft].length
						runs[sindexLeft].valid = false
						windexLeft = runs[sindexLeft].windowStart - 1

						sindexLeft--
						srunLeft = -1
						for sindexLeft >= 0 && srunLeft < 0 {
							if runs[sindexLeft].valid {
								srunLeft = runs[sindexLeft].windowStart + runs[sindexLeft].windowLength - 1
							} else {
								sindexLeft--
							}
						}
					} else {
						numElements += int(sizes[windexLeft])
						windexLeft--
					}
				}

				for windexRight < windowEnd {
					if windexRight == srunRight {
						numElements += runs[sindexRight].cardinality
						run.length += runs[sindexRight].length
						runs[sindexRight].valid = false
						windexRight = runs[sindexRight].windowStart + runs[sindexRight].windowLength

						sindexRight++
						srunRight = -1
						for sindexRight < len(runs) && srunRight < 0 {
							if runs[sindexRight].valid {
								srunRight = runs[sindexRight].windowStart
							} else {
								sindexRight++
							}
						}
					} else {
						numElements += int(sizes[windexRight])
						windexRight++
					}
				}

				dens = float64(numElements) / float64(windowLength*p.st.segCap)

				if !(dens > upper && height < p.st.height) {
					break
				}
			}
		}

		run.windowStart = windowStart
		run.windowLength = windowLength
		run.cardinality = numElements

		if windowLength == p.st.numSegments && dens > upper {
			return true
		}
	}

	return false
}

// loadSpread applies the surviving runs, choosing per run between a
// segment-local merge, the in-place multi-segment merge, and the rewired
// merge.
func (p *PMA) loadSpread(batch []Pair, runs []bulkRun) error {
	for i := range runs {
		if !runs[i].valid {
			continue
		}
		run := runs[i]
		slice := batch[run.start : run.start+run.length]

		if run.windowLength == 1 {
			if run.length == 1 {
				if err := p.insertCommon(run.windowStart, slice[0].Key, slice[0].Value); err != nil {
					return err
				}
			} else {
				p.loadMergeSingle(run.windowStart, slice, run.cardinality)
			}
			continue
		}

		if p.st.memKeys != nil && run.windowLength*p.st.segCap*8 >= p.st.memKeys.ExtentSize() {
			p.counters.spreads++
			p.counters.rewiredSpreads++
			s := newRewireSpreadBulk(p, run.windowStart, run.windowLength, run.cardinality, slice)
			if err := s.execute(); err != nil {
				return err
			}
			p.st.cardinality += run.length
		} else {
			p.counters.spreads++
			p.loadMergeMulti(run.windowStart, run.windowLength, slice, run.cardinality)
		}
	}
	return nil
}

// loadMergeSingle merges a run into one segment through a temporary copy of
// the segment's current content.
func (p *PMA) loadMergeSingle(segment int, seq []Pair, cardinality int) {
	segCap := p.st.segCap
	base := segment * segCap

	inputSize := int(p.st.sizes[segment])
	tmpKeys := make([]int64, inputSize)
	tmpValues := make([]int64, inputSize)

	var start int
	if segment%2 == 0 {
		start = segCap - inputSize
	}
	copy(tmpKeys, p.st.keys[base+start:base+start+inputSize])
	copy(tmpValues, p.st.values[base+start:base+start+inputSize])

	var outStart, outEnd int
	if segment%2 == 0 {
		outStart = segCap - cardinality
		outEnd = segCap
	} else {
		outStart = 0
		outEnd = cardinality
	}

	outCur := outStart
	inCur := 0
	seqCur := 0
	for outCur < outEnd && inCur < inputSize && seqCur < len(seq) {
		if seq[seqCur].Key < tmpKeys[inCur] {
			p.st.keys[base+outCur] = seq[seqCur].Key
			p.st.values[base+outCur] = seq[seqCur].Value
			seqCur++
		} else {
			p.st.keys[base+outCur] = tmpKeys[inCur]
			p.st.values[base+outCur] = tmpValues[inCur]
			inCur++
		}
		outCur++
	}
	if outCur < outEnd && inCur < inputSize {
		n := outEnd - outCur
		copy(p.st.keys[base+outCur:base+outEnd], tmpKeys[inCur:inCur+n])
		copy(p.st.values[base+outCur:base+outEnd], tmpValues[inCur:inCur+n])
		outCur += n
		inCur += n
	}
	for outCur < outEnd && seqCur < len(seq) {
		p.st.keys[base+outCur] = seq[seqCur].Key
		p.st.values[base+outCur] = seq[seqCur].Value
		seqCur++
		outCur++
	}

	p.index.SetSeparatorKey(segment, p.st.keys[base+outStart])
	p.st.sizes[segment] = uint16(cardinality)
	p.st.cardinality += len(seq)
}

// loadMergeMulti is the in-place merge over a multi-segment window: the
// two-chunk compaction of the window content followed by a three-way
// redistribution fed by chunk1, chunk2, and the batch run.
func (p *PMA) loadMergeMulti(windowStart, windowLength int, seq []Pair, cardinality int) {
	segCap := p.st.segCap
	base := windowStart * segCap

	elementsPerSegment := cardinality / windowLength
	oddSegments := cardinality % windowLength

	sz := p.st.sizes[windowStart : windowStart+windowLength]
	oKeys := p.st.keys[base : base+windowLength*segCap]
	oValues := p.st.values[base : base+windowLength*segCap]

	chunk2Cap := (segCap + windowLength/(elementsPerSegment+1)) * 2
	c2Keys := make([]int64, chunk2Cap)
	c2Values := make([]int64, chunk2Cap)

	// 1) compact towards the end; chunk2 takes the tail, possibly splitting
	// a pair run
	outSeg := windowLength - 2
	outStart := (outSeg+1)*segCap - int(sz[outSeg])
	outEnd := outStart + int(sz[outSeg]) + int(sz[outSeg+1])
	outCur := outEnd

	c2Left := chunk2Cap
	for outSeg >= 0 && c2Left > 0 {
		n := min(c2Left, outCur-outStart)
		copy(c2Keys[c2Left-n:c2Left], oKeys[outCur-n:outCur])
		copy(c2Values[c2Left-n:c2Left], oValues[outCur-n:outCur])
		outCur -= n
		c2Left -= n

		if outCur <= outStart {
			outSeg -= 2
			if outSeg >= 0 {
				outStart = (outSeg+1)*segCap - int(sz[outSeg])
				outEnd = outStart + int(sz[outSeg]) + int(sz[outSeg+1])
				outCur = outEnd
			}
		}
	}

	chunk2Keys := c2Keys[c2Left:]
	chunk2Values := c2Values[c2Left:]
	chunk2Size := chunk2Cap - c2Left

	c1Cur := windowLength * segCap
	for outSeg >= 0 {
		n := outCur - outStart
		copy(oKeys[c1Cur-n:c1Cur], oKeys[outCur-n:outCur])
		copy(oValues[c1Cur-n:c1Cur], oValues[outCur-n:outCur])
		c1Cur -= n
		outCur -= n

		if outCur <= outStart {
			outSeg -= 2
			if outSeg >= 0 {
				outStart = (outSeg+1)*segCap - int(sz[outSeg])
				outEnd = outStart + int(sz[outSeg]) + int(sz[outSeg+1])
				outCur = outEnd
			}
		}
	}

	chunk1Keys := oKeys[c1Cur:]
	chunk1Values := oValues[c1Cur:]
	chunk1Size := windowLength*segCap - c1Cur

	// 2) target sizes
	for i := 0; i < windowLength; i++ {
		sz[i] = uint16(elementsPerSegment + b2i(i < oddSegments))
	}

	// 3) three-way merge into the packed pair layout
	inKeys, inValues := chunk1Keys, chunk1Values
	inSize := chunk1Size
	usingChunk1 := true
	if chunk1Size == 0 {
		inKeys, inValues = chunk2Keys, chunk2Values
		inSize = chunk2Size
		usingChunk1 = false
	}
	inCur := 0
	seqCur := 0

	switchChunk := func() {
		if inCur == inSize && usingChunk1 {
			inKeys, inValues = chunk2Keys, chunk2Values
			inSize = chunk2Size
			inCur = 0
			usingChunk1 = false
		}
	}

	for i := 0; i < windowLength; i += 2 {
		pairStart := (i+1)*segCap - int(sz[i])
		pairEnd := pairStart + int(sz[i]) + int(sz[i+1])
		outCur := pairStart

		for outCur < pairEnd && inCur < inSize && seqCur < len(seq) {
			if inKeys[inCur] <= seq[seqCur].Key {
				oKeys[outCur] = inKeys[inCur]
				oValues[outCur] = inValues[inCur]
				inCur++
				switchChunk()
			} else {
				oKeys[outCur] = seq[seqCur].Key
				oValues[outCur] = seq[seqCur].Value
				seqCur++
			}
			outCur++
		}
		for outCur < pairEnd && inCur < inSize {
			n := min(pairEnd-outCur, inSize-inCur)
			copy(oKeys[outCur:outCur+n], inKeys[inCur:inCur+n])
			copy(oValues[outCur:outCur+n], inValues[inCur:inCur+n])
			outCur += n
			inCur += n
			switchChunk()
		}
		for outCur < pairEnd && seqCur < len(seq) {
			oKeys[outCur] = seq[seqCur].Key
			oValues[outCur] = seq[seqCur].Value
			seqCur++
			outCur++
		}

		p.index.SetSeparatorKey(windowStart+i, oKeys[pairStart])
		p.index.SetSeparatorKey(windowStart+i+1, oKeys[pairStart+int(sz[i])])
	}

	p.st.cardinality += len(seq)
}

// loadResize rebuilds the whole array sized for the combined cardinality and
// stream-merges the old content with the batch.
func (p *PMA) loadResize(batch []Pair) error {
	var err error
	if p.st.memKeys != nil && p.st.numSegments*p.st.segCap*8 >= p.st.memKeys.ExtentSize() {
		err = p.loadResizeRewire(batch)
	} else {
		err = p.loadResizeGeneral(batch)
	}
	if err != nil {
		return err
	}

	p.bounds = density.NewBounds(p.st.height)
	return nil
}

func (p *PMA) loadResizeRewire(batch []Pair) error {
	p.counters.resizesUp++

	before := p.st.numSegments
	cardinality := p.st.cardinality + len(batch)
	capacity := hyperceil(int(math.Ceil(float64(cardinality) / density.UpperRoot())))
	after := capacity / p.st.segCap

	if err := p.st.extend(after - before); err != nil {
		return err
	}
	p.index.Rebuild(after)

	s := newRewireSpreadBulk(p, 0, after, cardinality, batch)
	s.setStartPosition((before-1)*p.st.segCap + int(p.st.sizes[before-1]))
	if err := s.execute(); err != nil {
		return err
	}

	p.st.cardinality = cardinality
	return nil
}

func (p *PMA) loadResizeGeneral(batch []Pair) error {
	p.counters.resizesUp++

	segCap := p.st.segCap
	cardinality := p.st.cardinality + len(batch)
	capacity := hyperceil(int(math.Ceil(float64(cardinality) / density.UpperRoot())))
	numSegments := capacity / segCap
	elementsPerSegment := cardinality / numSegments
	oddSegments := cardinality % numSegments

	ws, err := p.st.allocWorkspace(numSegments)
	if err != nil {
		return err
	}
	old := p.st.adopt(ws)
	defer old.release()

	oldNumSegments := p.st.numSegments
	xKeys, xValues, xSizes := p.st.keys, p.st.values, p.st.sizes

	p.index.Rebuild(numSegments)

	// The input advances one pair run at a time; the sentinel sizes[1]=0
	// covers the single-segment case.
	inSeg := 0
	inCur := segCap - int(old.sizes[0])
	inEnd := segCap + int(old.sizes[1])
	advancePair := func() {
		for {
			inSeg += 2
			if inSeg >= oldNumSegments {
				return
			}
			inCur = (inSeg+1)*segCap - int(old.sizes[inSeg])
			inEnd = inCur + int(old.sizes[inSeg]) + int(old.sizes[inSeg+1])
			if inCur < inEnd {
				return
			}
		}
	}
	if inCur == inEnd {
		advancePair()
	}

	batchCur := 0
	for j := 0; j < numSegments; j += 2 {
		xSizes[j] = uint16(elementsPerSegment + b2i(j < oddSegments))
		xSizes[j+1] = uint16(elementsPerSegment + b2i(j+1 < oddSegments))

		outStart := (j+1)*segCap - int(xSizes[j])
		outCur := outStart
		outEnd := outStart + int(xSizes[j]) + int(xSizes[j+1])

		for outCur < outEnd && batchCur < len(batch) && inCur < inEnd {
			if old.keys[inCur] < batch[batchCur].Key {
				xKeys[outCur] = old.keys[inCur]
				xValues[outCur] = old.values[inCur]
				inCur++
				if inCur >= inEnd {
					advancePair()
				}
			} else {
				xKeys[outCur] = batch[batchCur].Key
				xValues[outCur] = batch[batchCur].Value
				batchCur++
			}
			outCur++
		}

		for outCur < outEnd && inCur < inEnd {
			n := min(outEnd-outCur, inEnd-inCur)
			copy(xKeys[outCur:outCur+n], old.keys[inCur:inCur+n])
			copy(xValues[outCur:outCur+n], old.values[inCur:inCur+n])
			inCur += n
			outCur += n
			if inCur >= inEnd {
				advancePair()
			}
		}

		for outCur < outEnd && batchCur < len(batch) {
			xKeys[outCur] = batch[batchCur].Key
			xValues[outCur] = batch[batchCur].Value
			batchCur++
			outCur++
		}

		p.index.SetSeparatorKey(j, xKeys[outStart])
		p.index.SetSeparatorKey(j+1, xKeys[outStart+int(xSizes[j])])
	}

	p.st.cardinality = cardinality
	p.st.capacity = capacity
	p.st.numSegments = numSegments
	p.st.height = log2(numSegments) + 1
	return nil
}

// loadEmpty populates an empty array: straight into one segment when the
// batch fits under the leaf threshold, otherwise into a fresh array sized at
// a density halfway between the root and leaf ceilings, so a load is not
// immediately followed by a resize.
func (p *PMA) loadEmpty(batch []Pair) error {
	if float64(len(batch)) <= density.UpperLeaves()*float64(p.st.segCap) {
		if p.st.numSegments > 1 {
			if err := p.resetWorkspace(1); err != nil {
				return err
			}
			p.index.Rebuild(1)
			p.bounds = density.NewBounds(1)
		}
		p.loadEmptySingle(batch)
		return nil
	}
	return p.loadEmptyMulti(batch)
}

func (p *PMA) loadEmptySingle(batch []Pair) {
	segCap := p.st.segCap
	outStart := segCap - len(batch)

	for i, pair := range batch {
		p.st.keys[outStart+i] = pair.Key
		p.st.values[outStart+i] = pair.Value
	}

	p.index.SetSeparatorKey(0, batch[0].Key)
	p.st.sizes[0] = uint16(len(batch))
	p.st.cardinality = len(batch)
}

func (p *PMA) loadEmptyMulti(batch []Pair) error {
	segCap := p.st.segCap

	targetDensity := (density.UpperRoot() + density.UpperLeaves()) / 2
	capacity := max(hyperceil(int(math.Ceil(float64(len(batch))/targetDensity))), 2*segCap)
	numSegments := capacity / segCap
	elementsPerSegment := len(batch) / numSegments
	oddSegments := len(batch) % numSegments

	if err := p.resetWorkspace(numSegments); err != nil {
		return err
	}
	p.index.Rebuild(numSegments)

	for i := 0; i < numSegments; i++ {
		p.st.sizes[i] = uint16(elementsPerSegment + b2i(i < oddSegments))
	}

	cur := 0
	for i := 0; i < numSegments; i += 2 {
		outStart := (i+1)*segCap - int(p.st.sizes[i])
		outEnd := outStart + int(p.st.sizes[i]) + int(p.st.sizes[i+1])

		for outCur := outStart; outCur < outEnd; outCur++ {
			p.st.keys[outCur] = batch[cur].Key
			p.st.values[outCur] = batch[cur].Value
			cur++
		}

		p.index.SetSeparatorKey(i, p.st.keys[outStart])
		p.index.SetSeparatorKey(i+1, p.st.keys[outStart+int(p.st.sizes[i])])
	}

	p.st.cardinality = len(batch)
	p.st.capacity = capacity
	p.st.numSegments = numSegments
	p.st.height = log2(numSegments) + 1

	p.bounds = density.NewBounds(p.st.height)
	return nil
}

// resetWorkspace replaces the arrays with a fresh workspace for numSegments
// segments; the content is discarded.
func (p *PMA) resetWorkspace(numSegments int) error {
	ws, err := p.st.allocWorkspace(numSegments)
	if err != nil {
		return err
	}
	old := p.st.adopt(ws)
	old.release()

	p.st.numSegments = numSegments
	p.st.capacity = numSegments * p.st.segCap
	p.st.height = log2(numSegments) + 1
	for i := 0; i < min(numSegments, len(p.st.sizes)); i++ {
		p.st.sizes[i] = 0
	}
	return nil
}
