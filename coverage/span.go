// Package coverage tracks which vertical ranges of a page have already been
// captured and computes the part of a newly visible range that has not.
//
// Coordinates are logical page pixels. A Span is half-open for length
// purposes but Contains treats both ends as inside, so a range that starts
// exactly where a span ends extends that span instead of creating a new one.
package coverage

import (
	"errors"
	"fmt"
)

// ErrContract is returned when a caller breaks a precondition (inverted
// span, misordered merge, inverted visible range). It signals that the
// coverage invariant is already broken and must not be retried.
var ErrContract = errors.New("coverage: contract violation")

// Span is one contiguous captured range [Start, End).
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewSpan returns [start, end). start must be strictly less than end.
func NewSpan(start, end int) (Span, error) {
	if start >= end {
		return Span{}, fmt.Errorf("%w: span [%d, %d) is empty or inverted", ErrContract, start, end)
	}
	return Span{Start: start, End: end}, nil
}

// Len returns End - Start.
func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether Start <= x <= End.
func (s Span) Contains(x int) bool {
	return s.Start <= x && x <= s.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// Merge absorbs other, which must lie entirely after s (s.End <= other.Start).
// s becomes [s.Start, other.End). The uncovered gap between the two, if any,
// is returned with ok set. The caller drops other afterwards.
func (s *Span) Merge(other Span) (gap Span, ok bool, err error) {
	if s.End > other.Start {
		return Span{}, false, fmt.Errorf("%w: merge %s into %s: not ordered", ErrContract, other, *s)
	}
	if s.End < other.Start {
		gap, ok = Span{Start: s.End, End: other.Start}, true
	}
	s.End = other.End
	return gap, ok, nil
}

// Extend grows s forward or backward until it reaches x and returns the
// region that was added. ok is false when x was already inside s.
func (s *Span) Extend(x int) (gap Span, ok bool) {
	switch {
	case x > s.End:
		gap = Span{Start: s.End, End: x}
		s.End = x
		return gap, true
	case x < s.Start:
		gap = Span{Start: x, End: s.Start}
		s.Start = x
		return gap, true
	}
	return Span{}, false
}
