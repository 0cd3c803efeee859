package pma

import (
	"math"
)

// pendingInsert is the element that triggered a rebalance of a full segment.
// It is woven into the redistribution instead of being inserted up front.
type pendingInsert struct {
	key     int64
	value   int64
	segment int
}

// Insert adds the pair to the array. Keys are expected to be unique;
// duplicates are stored but lookups return an arbitrary match.
func (p *PMA) Insert(key, value int64) error {
	if p.Empty() {
		p.insertEmpty(key, value)
		return nil
	}
	return p.insertCommon(p.index.Find(key), key, value)
}

func (p *PMA) insertEmpty(key, value int64) {
	p.index.SetSeparatorKey(0, key)
	p.st.sizes[0] = 1
	pos := p.st.segCap - 1
	p.st.keys[pos] = key
	p.st.values[pos] = value
	p.st.cardinality = 1
}

func (p *PMA) insertCommon(segment int, key, value int64) error {
	if int(p.st.sizes[segment]) == p.st.segCap {
		return p.rebalance(segment, &pendingInsert{key: key, value: value, segment: segment})
	}

	if p.insertWithin(segment, key, value) {
		// The inserted key became the segment minimum.
		p.index.SetSeparatorKey(segment, key)
	}
	return nil
}

// insertWithin places the pair into a segment with spare capacity, keeping
// the packed run sorted. Even segments slide smaller keys towards the free
// space on their left, odd segments slide larger keys towards their right.
// It reports whether the inserted key is the new segment minimum.
func (p *PMA) insertWithin(segment int, key, value int64) bool {
	segCap := p.st.segCap
	base := segment * segCap
	keys := p.st.keys[base : base+segCap]
	values := p.st.values[base : base+segCap]
	sz := int(p.st.sizes[segment])

	var minimum bool
	if segment%2 == 0 {
		stop := segCap - 1
		start := segCap - sz - 1
		i := start
		for i < stop && keys[i+1] < key {
			keys[i] = keys[i+1]
			i++
		}
		keys[i] = key
		for j := start; j < i; j++ {
			values[j] = values[j+1]
		}
		values[i] = value
		minimum = i == start
	} else {
		i := sz
		for i > 0 && keys[i-1] > key {
			keys[i] = keys[i-1]
			i--
		}
		keys[i] = key
		for j := sz; j > i; j-- {
			values[j] = values[j-1]
		}
		values[i] = value
		minimum = i == 0
	}

	p.st.sizes[segment]++
	p.st.cardinality++
	return minimum
}

// Find returns the value stored for key, or Missing.
func (p *PMA) Find(key int64) int64 {
	if p.Empty() {
		return Missing
	}

	segment := p.index.Find(key)
	segCap := p.st.segCap
	base := segment * segCap
	keys := p.st.keys[base : base+segCap]
	sz := int(p.st.sizes[segment])

	var start, stop int
	if segment%2 == 0 {
		stop = segCap
		start = stop - sz
	} else {
		start = 0
		stop = sz
	}

	for i := start; i < stop; i++ {
		if keys[i] == key {
			return p.st.values[base+i]
		}
	}
	return Missing
}

// Remove deletes key and returns its value, or Missing when absent. An error
// can only arise from an allocation failure while rebalancing.
func (p *PMA) Remove(key int64) (int64, error) {
	if p.Empty() {
		return Missing, nil
	}

	segment := p.index.Find(key)
	segCap := p.st.segCap
	base := segment * segCap
	keys := p.st.keys[base : base+segCap]
	values := p.st.values[base : base+segCap]
	sz := int(p.st.sizes[segment])

	value := Missing

	if segment%2 == 0 {
		imin := segCap - sz
		i := imin
		for ; i < segCap; i++ {
			if keys[i] == key {
				break
			}
		}
		if i < segCap {
			value = values[i]
			for j := i; j > imin; j-- {
				keys[j] = keys[j-1]
				values[j] = values[j-1]
			}
			sz--
			p.st.sizes[segment] = uint16(sz)
			p.st.cardinality--

			if i == imin {
				if p.st.cardinality == 0 {
					p.index.SetSeparatorKey(0, math.MinInt64)
				} else {
					p.index.SetSeparatorKey(segment, p.st.keys[base+imin+1])
				}
			}
		}
	} else {
		i := 0
		for ; i < sz; i++ {
			if keys[i] == key {
				break
			}
		}
		if i < sz {
			value = values[i]
			for j := i; j < sz-1; j++ {
				keys[j] = keys[j+1]
				values[j] = values[j+1]
			}
			sz--
			p.st.sizes[segment] = uint16(sz)
			p.st.cardinality--

			if p.st.cardinality == 0 {
				p.index.SetSeparatorKey(0, math.MinInt64)
			} else if i == 0 && sz > 0 {
				p.index.SetSeparatorKey(segment, keys[0])
			}
		}
	}

	if value != Missing && p.st.numSegments > 1 {
		lower, _ := p.bounds.Thresholds(1)
		minSize := max(int(math.Ceil(lower*float64(segCap))), 1)
		if sz < minSize {
			if err := p.rebalance(segment, nil); err != nil {
				return value, err
			}
		}
	}

	return value, nil
}
