package pma

import (
	"fmt"
)

// Validate checks the structural invariants of the array. It is meant for
// tests and debugging; operations do not call it.
func (p *PMA) Validate() error {
	segCap := p.st.segCap

	total := 0
	empty := 0
	previous := int64(0)
	first := true

	for s := 0; s < p.st.numSegments; s++ {
		sz := int(p.st.sizes[s])
		if sz > segCap {
			return fmt.Errorf("segment %d: size %d exceeds capacity %d", s, sz, segCap)
		}
		total += sz
		if sz == 0 {
			empty++
			continue
		}

		var start, end int
		if s%2 == 0 {
			start = (s+1)*segCap - sz
			end = (s + 1) * segCap
		} else {
			start = s * segCap
			end = start + sz
		}

		for i := start; i < end; i++ {
			key := p.st.keys[i]
			if !first && key <= previous {
				return fmt.Errorf("segment %d: key %d at offset %d not greater than previous %d", s, key, i, previous)
			}
			previous = key
			first = false
		}

		if sep := p.index.SeparatorKey(s); sep != p.st.keys[start] {
			return fmt.Errorf("segment %d: separator %d does not match minimum %d", s, sep, p.st.keys[start])
		}
	}

	if total != p.st.cardinality {
		return fmt.Errorf("cardinality %d does not match the sum of segment sizes %d", p.st.cardinality, total)
	}
	if p.st.cardinality > 0 && empty > 1 {
		return fmt.Errorf("%d empty segments in a non-empty array", empty)
	}
	if p.st.numSegments == 1 && p.st.sizes[1] != 0 {
		return fmt.Errorf("sentinel segment size is %d, want 0", p.st.sizes[1])
	}
	if p.st.capacity != p.st.numSegments*segCap {
		return fmt.Errorf("capacity %d does not match %d segments of %d", p.st.capacity, p.st.numSegments, segCap)
	}
	if p.st.height != log2(p.st.numSegments)+1 {
		return fmt.Errorf("height %d does not match %d segments", p.st.height, p.st.numSegments)
	}

	return p.validateDensity()
}

// validateDensity walks every window of the calibrator tree and checks its
// fill against the density schedule.
//
// The bounds are enforced lazily: a rebalance restores them for the window
// it spreads, but point updates may carry any other window past its exact
// band until the next rebalance walks through it. A window is therefore
// checked against its band widened to the leaf schedule plus one segment of
// drift, the slack a single not-yet-rebalanced segment can contribute. A
// regression in the threshold logic leaves windows far outside even that.
func (p *PMA) validateDensity() error {
	segCap := p.st.segCap
	leafLower, leafUpper := p.bounds.Thresholds(1)

	for h := 1; h <= p.st.height; h++ {
		lower, upper := p.bounds.Thresholds(h)
		lower = min(lower, leafLower)
		upper = max(upper, leafUpper)

		windowLength := 1 << (h - 1)
		for start := 0; start < p.st.numSegments; start += windowLength {
			count := 0
			for s := start; s < start+windowLength; s++ {
				count += int(p.st.sizes[s])
			}

			windowCapacity := windowLength * segCap
			if count > int(upper*float64(windowCapacity))+segCap {
				return fmt.Errorf("window [%d,%d) at height %d: %d elements exceed the density ceiling %.2f",
					start, start+windowLength, h, count, upper)
			}
			if p.st.cardinality > 0 && count < int(lower*float64(windowCapacity))-segCap {
				return fmt.Errorf("window [%d,%d) at height %d: %d elements fall below the density floor %.2f",
					start, start+windowLength, h, count, lower)
			}
		}
	}

	return nil
}
