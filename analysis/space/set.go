package space

import (
	"fmt"
	"sort"
	"strings"
)

// AddressSet is a set of addresses kept as sorted, coalesced ranges.
// It records the body of instructions processed during a pass.
type AddressSet struct {
	ranges []addrRange
}

// addrRange is inclusive on both ends and never spans spaces.
type addrRange struct {
	min, max Address
}

func NewAddressSet() *AddressSet {
	return &AddressSet{}
}

// Add inserts a single address.
func (s *AddressSet) Add(a Address) {
	s.AddRange(a, a)
}

// AddRange inserts the inclusive range [min, max] within one space.
func (s *AddressSet) AddRange(min, max Address) {
	if min.IsNone() || max.IsNone() || min.Space != max.Space || min.Offset > max.Offset {
		return
	}
	r := addrRange{min, max}

	// Find insertion point and merge with any overlapping or adjacent
	// neighbours.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return compare(s.ranges[i].min, r.min) >= 0
	})
	// The previous range may absorb r.
	if i > 0 && s.ranges[i-1].touches(r) {
		i--
	}
	for i < len(s.ranges) && s.ranges[i].touches(r) {
		r = r.union(s.ranges[i])
		s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
	}
	s.ranges = append(s.ranges, addrRange{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = r
}

// AddSet inserts every range of other.
func (s *AddressSet) AddSet(other *AddressSet) {
	if other == nil {
		return
	}
	for _, r := range other.ranges {
		s.AddRange(r.min, r.max)
	}
}

// Contains reports membership of a single address.
func (s *AddressSet) Contains(a Address) bool {
	if s == nil || a.IsNone() {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool {
		return compare(s.ranges[i].max, a) >= 0
	})
	return i < len(s.ranges) && s.ranges[i].contains(a)
}

// NumAddresses counts the addresses covered by the set.
func (s *AddressSet) NumAddresses() (n uint64) {
	for _, r := range s.ranges {
		n += r.max.Offset - r.min.Offset + 1
	}
	return
}

// ForEachRange walks the coalesced ranges in address order.
func (s *AddressSet) ForEachRange(f func(min, max Address)) {
	for _, r := range s.ranges {
		f(r.min, r.max)
	}
}

func (s *AddressSet) String() string {
	var parts []string
	for _, r := range s.ranges {
		if r.min == r.max {
			parts = append(parts, r.min.String())
		} else {
			parts = append(parts, fmt.Sprintf("[%s, %s]", r.min, r.max))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (r addrRange) contains(a Address) bool {
	return r.min.Space == a.Space && r.min.Offset <= a.Offset && a.Offset <= r.max.Offset
}

// touches reports overlap or adjacency, which allows coalescing.
func (r addrRange) touches(o addrRange) bool {
	if r.min.Space != o.min.Space {
		return false
	}
	lo, hi := r, o
	if lo.min.Offset > hi.min.Offset {
		lo, hi = hi, lo
	}
	return lo.max.Offset+1 >= hi.min.Offset
}

func (r addrRange) union(o addrRange) addrRange {
	u := r
	if o.min.Offset < u.min.Offset {
		u.min = o.min
	}
	if o.max.Offset > u.max.Offset {
		u.max = o.max
	}
	return u
}
