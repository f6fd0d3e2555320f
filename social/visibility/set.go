package visibility

import "sort"

// IDSet is a set of user IDs.
type IDSet map[int64]struct{}

// NewIDSet builds a set from the given IDs.
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

// Remove deletes id from the set.
func (s IDSet) Remove(id int64) {
	delete(s, id)
}

// Slice returns the members sorted ascending, for stable queries and
// stable JSON.
func (s IDSet) Slice() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
