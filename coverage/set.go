package coverage

import (
	"fmt"
	"sort"
)

// Set is the collection of spans captured so far in one session. Spans are
// pairwise disjoint and kept sorted by Start. Spans that merely touch are
// left as they are; they fuse only when a visible range crosses them.
//
// A Set is not safe for concurrent use. A capture session owns exactly one.
type Set struct {
	spans []Span
}

// NewSet builds a Set from existing spans, which may be given in any order
// but must not overlap.
func NewSet(spans ...Span) (*Set, error) {
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start < sorted[b].Start })

	for k, sp := range sorted {
		if sp.Start >= sp.End {
			return nil, fmt.Errorf("%w: span %s is empty or inverted", ErrContract, sp)
		}
		if k > 0 && sorted[k-1].End > sp.Start {
			return nil, fmt.Errorf("%w: spans %s and %s overlap", ErrContract, sorted[k-1], sp)
		}
	}
	return &Set{spans: sorted}, nil
}

// ComputeDelta records the visible range [x1, x2] as covered and returns the
// sub-ranges of it that were not covered before the call, in ascending order.
// An empty result means nothing new is visible.
//
// The x1 span (or, failing that, the first span touching the range) is the
// one that survives: it is extended backward to x1, absorbs every later span
// up to the one containing x2, and is extended forward to x2. Each gap
// crossed on the way is one delta.
func (s *Set) ComputeDelta(x1, x2 int) ([]Span, error) {
	if x1 > x2 {
		return nil, fmt.Errorf("%w: visible range [%d, %d] is inverted", ErrContract, x1, x2)
	}

	// First span that could contain x1, last span that could contain x2.
	i := sort.Search(len(s.spans), func(k int) bool { return s.spans[k].End >= x1 })
	j := sort.Search(len(s.spans), func(k int) bool { return s.spans[k].Start > x2 }) - 1

	if i > j {
		if x1 == x2 {
			return nil, nil
		}
		sp := Span{Start: x1, End: x2}
		s.insert(i, sp)
		return []Span{sp}, nil
	}

	base := s.spans[i]
	if i == j && base.Contains(x1) && base.Contains(x2) {
		return nil, nil
	}

	var delta []Span
	if gap, ok := base.Extend(x1); ok {
		delta = append(delta, gap)
	}
	for k := i + 1; k <= j; k++ {
		gap, ok, err := base.Merge(s.spans[k])
		if err != nil {
			return nil, err
		}
		if ok {
			delta = append(delta, gap)
		}
	}
	if gap, ok := base.Extend(x2); ok {
		delta = append(delta, gap)
	}

	s.spans[i] = base
	s.spans = append(s.spans[:i+1], s.spans[j+1:]...)
	return delta, nil
}

func (s *Set) insert(at int, sp Span) {
	s.spans = append(s.spans, Span{})
	copy(s.spans[at+1:], s.spans[at:])
	s.spans[at] = sp
}

// Covers reports whether every point of [x1, x2] is covered, following
// chains of touching spans.
func (s *Set) Covers(x1, x2 int) bool {
	if x1 > x2 {
		return false
	}
	i := sort.Search(len(s.spans), func(k int) bool { return s.spans[k].End >= x1 })
	if i == len(s.spans) || !s.spans[i].Contains(x1) {
		return false
	}
	end := s.spans[i].End
	for k := i + 1; k < len(s.spans) && end < x2 && s.spans[k].Start == end; k++ {
		end = s.spans[k].End
	}
	return x2 <= end
}

// Spans returns a copy of the spans, sorted by Start.
func (s *Set) Spans() []Span {
	out := make([]Span, len(s.spans))
	copy(out, s.spans)
	return out
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	return &Set{spans: s.Spans()}
}

// Len returns the number of spans.
func (s *Set) Len() int { return len(s.spans) }

// Covered returns the total covered length.
func (s *Set) Covered() int {
	n := 0
	for _, sp := range s.spans {
		n += sp.Len()
	}
	return n
}
