// Package rangeset provides an ordered set of disjoint half-open int64 ranges.
//
// The set keeps its ranges sorted, non-overlapping and non-adjacent: including a range that
// touches or overlaps existing entries merges them into one. This makes it a compact record
// of "which absolute sample times are covered" for streams that are mostly contiguous with
// the occasional hole.
//
// Set is not safe for concurrent use; callers guard it with their own lock.
package rangeset

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
)

// Range is the half-open interval [Begin, End).
type Range struct {
	Begin int64 `json:"begin"`
	End   int64 `json:"end"`
}

// Empty reports whether the range covers nothing.
func (r Range) Empty() bool {
	return r.End <= r.Begin
}

// Len returns the number of values in the range, zero for empty ranges.
func (r Range) Len() int64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Begin
}

// Contains reports whether t lies inside the range.
func (r Range) Contains(t int64) bool {
	return t >= r.Begin && t < r.End
}

// Overlaps reports whether the two ranges share at least one value.
func (r Range) Overlaps(o Range) bool {
	return !r.Intersect(o).Empty()
}

// Intersect returns the common part of two ranges. The result may be empty.
func (r Range) Intersect(o Range) Range {
	return Range{Begin: max(r.Begin, o.Begin), End: min(r.End, o.End)}
}

// Hull returns the smallest range covering both r and o.
func (r Range) Hull(o Range) Range {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Range{Begin: min(r.Begin, o.Begin), End: max(r.End, o.End)}
}

// Shift moves the range by d.
func (r Range) Shift(d int64) Range {
	return Range{Begin: r.Begin + d, End: r.End + d}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Begin, r.End)
}

// Set is an ordered collection of disjoint, non-adjacent ranges.
type Set struct {
	ranges []Range
}

// New returns a set holding the given ranges.
func New(ranges ...Range) *Set {
	s := &Set{}
	for _, r := range ranges {
		s.Include(r)
	}
	return s
}

// Include adds r to the set, merging with any range it touches.
func (s *Set) Include(r Range) {
	if r.Empty() {
		return
	}

	n := len(s.ranges)
	// Appending past the current end is the common case for a live stream.
	if n == 0 || s.ranges[n-1].End < r.Begin {
		s.ranges = append(s.ranges, r)
		return
	}

	i := sort.Search(n, func(k int) bool { return s.ranges[k].End >= r.Begin })
	j := sort.Search(n, func(k int) bool { return s.ranges[k].Begin > r.End })
	if i == j {
		s.ranges = slices.Insert(s.ranges, i, r)
		return
	}

	merged := Range{
		Begin: min(r.Begin, s.ranges[i].Begin),
		End:   max(r.End, s.ranges[j-1].End),
	}
	s.ranges = slices.Replace(s.ranges, i, j, merged)
}

// Exclude removes r from the set, splitting a range when r punches a hole in it.
func (s *Set) Exclude(r Range) {
	if r.Empty() || len(s.ranges) == 0 {
		return
	}

	n := len(s.ranges)
	i := sort.Search(n, func(k int) bool { return s.ranges[k].End > r.Begin })
	j := sort.Search(n, func(k int) bool { return s.ranges[k].Begin >= r.End })
	if i >= j {
		return
	}

	keep := make([]Range, 0, 2)
	if first := s.ranges[i]; first.Begin < r.Begin {
		keep = append(keep, Range{Begin: first.Begin, End: r.Begin})
	}
	if last := s.ranges[j-1]; last.End > r.End {
		keep = append(keep, Range{Begin: r.End, End: last.End})
	}
	s.ranges = slices.Replace(s.ranges, i, j, keep...)
}

// ExcludeBefore drops every value lower than t.
func (s *Set) ExcludeBefore(t int64) {
	s.Exclude(Range{Begin: math.MinInt64, End: t})
}

// Covered returns the parts of r that are in the set, in order.
func (s *Set) Covered(r Range) []Range {
	if r.Empty() {
		return nil
	}

	var out []Range
	for i := s.firstAfter(r.Begin); i < len(s.ranges) && s.ranges[i].Begin < r.End; i++ {
		out = append(out, s.ranges[i].Intersect(r))
	}
	return out
}

// Gaps returns the parts of r that are not in the set, in order.
func (s *Set) Gaps(r Range) []Range {
	if r.Empty() {
		return nil
	}

	var out []Range
	cursor := r.Begin
	for i := s.firstAfter(r.Begin); i < len(s.ranges) && s.ranges[i].Begin < r.End; i++ {
		if s.ranges[i].Begin > cursor {
			out = append(out, Range{Begin: cursor, End: s.ranges[i].Begin})
		}
		cursor = max(cursor, s.ranges[i].End)
	}
	if cursor < r.End {
		out = append(out, Range{Begin: cursor, End: r.End})
	}
	return out
}

// Covers reports whether every value of r is in the set.
func (s *Set) Covers(r Range) bool {
	return len(s.Gaps(r)) == 0
}

// Ranges returns a copy of the ranges in the set, nil when the set is empty.
func (s *Set) Ranges() []Range {
	if len(s.ranges) == 0 {
		return nil
	}
	return slices.Clone(s.ranges)
}

// Len returns the number of disjoint ranges.
func (s *Set) Len() int {
	return len(s.ranges)
}

// Count returns the number of values covered by the set.
func (s *Set) Count() int64 {
	var total int64
	for _, r := range s.ranges {
		total += r.Len()
	}
	return total
}

// Bounds returns the hull of the set, or an empty range when the set is empty.
func (s *Set) Bounds() Range {
	if len(s.ranges) == 0 {
		return Range{}
	}
	return Range{Begin: s.ranges[0].Begin, End: s.ranges[len(s.ranges)-1].End}
}

// Clear empties the set.
func (s *Set) Clear() {
	s.ranges = s.ranges[:0]
}

func (s *Set) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// firstAfter returns the index of the first range ending after t.
func (s *Set) firstAfter(t int64) int {
	return sort.Search(len(s.ranges), func(k int) bool { return s.ranges[k].End > t })
}
