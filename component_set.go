package ecs

import "math/bits"

// componentSet is a growable bitmask over component ids. Bit i is set when
// component id i is a member.
type componentSet []uint64

func newComponentSet(ids ...ComponentID) componentSet {
	var s componentSet
	for _, id := range ids {
		s = s.with(id)
	}
	return s
}

func (s componentSet) with(id ComponentID) componentSet {
	word := int(id >> 6)
	if word >= len(s) {
		grown := make(componentSet, word+1)
		copy(grown, s)
		s = grown
	}
	s[word] |= 1 << (id & 63)
	return s
}

func (s componentSet) has(id ComponentID) bool {
	word := int(id >> 6)
	if word >= len(s) {
		return false
	}
	return s[word]&(1<<(id&63)) != 0
}

func (s componentSet) intersects(other componentSet) bool {
	n := min(len(s), len(other))
	for i := 0; i < n; i++ {
		if s[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

func (s componentSet) union(other componentSet) componentSet {
	out := make(componentSet, max(len(s), len(other)))
	copy(out, s)
	for i, w := range other {
		out[i] |= w
	}
	return out
}

func (s componentSet) empty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

// ids returns the members in ascending order.
func (s componentSet) ids() []ComponentID {
	var out []ComponentID
	for i, w := range s {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			out = append(out, ComponentID(i*64+bit))
			w &^= 1 << bit
		}
	}
	return out
}
