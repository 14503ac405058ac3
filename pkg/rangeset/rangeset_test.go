package rangeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func r(b, e int64) Range { return Range{Begin: b, End: e} }

func TestInclude(t *testing.T) {
	testCases := []struct {
		name     string
		include  []Range
		expected []Range
	}{
		{"single", []Range{r(0, 10)}, []Range{r(0, 10)}},
		{"empty range ignored", []Range{r(5, 5), r(7, 3)}, nil},
		{"append disjoint", []Range{r(0, 10), r(20, 30)}, []Range{r(0, 10), r(20, 30)}},
		{"adjacent merges", []Range{r(0, 10), r(10, 20)}, []Range{r(0, 20)}},
		{"overlap merges", []Range{r(0, 10), r(5, 15)}, []Range{r(0, 15)}},
		{"insert before", []Range{r(20, 30), r(0, 10)}, []Range{r(0, 10), r(20, 30)}},
		{"insert between", []Range{r(0, 10), r(40, 50), r(20, 30)}, []Range{r(0, 10), r(20, 30), r(40, 50)}},
		{"bridge many", []Range{r(0, 10), r(20, 30), r(40, 50), r(5, 45)}, []Range{r(0, 50)}},
		{"contained", []Range{r(0, 100), r(10, 20)}, []Range{r(0, 100)}},
		{"covers all", []Range{r(10, 20), r(30, 40), r(0, 100)}, []Range{r(0, 100)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.include...)
			if tc.expected == nil {
				assert.Equal(t, 0, s.Len())
				return
			}
			assert.Equal(t, tc.expected, s.Ranges())
		})
	}
}

func TestExclude(t *testing.T) {
	testCases := []struct {
		name     string
		initial  []Range
		exclude  Range
		expected []Range
	}{
		{"no overlap", []Range{r(0, 10)}, r(20, 30), []Range{r(0, 10)}},
		{"touching is not overlap", []Range{r(0, 10)}, r(10, 20), []Range{r(0, 10)}},
		{"trim head", []Range{r(0, 10)}, r(0, 4), []Range{r(4, 10)}},
		{"trim tail", []Range{r(0, 10)}, r(6, 12), []Range{r(0, 6)}},
		{"split", []Range{r(0, 10)}, r(3, 6), []Range{r(0, 3), r(6, 10)}},
		{"remove whole", []Range{r(0, 10), r(20, 30)}, r(0, 10), []Range{r(20, 30)}},
		{"span several", []Range{r(0, 10), r(20, 30), r(40, 50)}, r(5, 45), []Range{r(0, 5), r(45, 50)}},
		{"split keeps tail ranges", []Range{r(0, 10), r(20, 30)}, r(4, 6), []Range{r(0, 4), r(6, 10), r(20, 30)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.initial...)
			s.Exclude(tc.exclude)
			assert.Equal(t, tc.expected, s.Ranges())
		})
	}
}

func TestExcludeBefore(t *testing.T) {
	s := New(r(-50, -10), r(0, 10), r(20, 30))
	s.ExcludeBefore(5)
	assert.Equal(t, []Range{r(5, 10), r(20, 30)}, s.Ranges())
}

func TestGapsAndCovered(t *testing.T) {
	s := New(r(10, 20), r(30, 40))

	testCases := []struct {
		name    string
		query   Range
		gaps    []Range
		covered []Range
	}{
		{"fully covered", r(12, 18), nil, []Range{r(12, 18)}},
		{"fully missing", r(50, 60), []Range{r(50, 60)}, nil},
		{"hole in middle", r(10, 40), []Range{r(20, 30)}, []Range{r(10, 20), r(30, 40)}},
		{"edges missing", r(0, 50), []Range{r(0, 10), r(20, 30), r(40, 50)}, []Range{r(10, 20), r(30, 40)}},
		{"empty query", r(5, 5), nil, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.gaps, s.Gaps(tc.query))
			assert.Equal(t, tc.covered, s.Covered(tc.query))
			assert.Equal(t, len(tc.gaps) == 0, s.Covers(tc.query))
		})
	}
}

func TestGapsPartitionQuery(t *testing.T) {
	s := New(r(3, 7), r(11, 13), r(20, 25), r(26, 40))
	query := r(0, 30)

	var total int64
	for _, g := range s.Gaps(query) {
		total += g.Len()
	}
	for _, c := range s.Covered(query) {
		total += c.Len()
	}
	require.Equal(t, query.Len(), total, "gaps and covered parts must partition the query")
}

func TestCountBoundsClear(t *testing.T) {
	s := New(r(0, 10), r(20, 25))
	assert.Equal(t, int64(15), s.Count())
	assert.Equal(t, r(0, 25), s.Bounds())
	assert.Equal(t, "{[0,10) [20,25)}", s.String())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Bounds().Empty())
}

func TestRangeHelpers(t *testing.T) {
	assert.Equal(t, r(5, 10), r(0, 10).Intersect(r(5, 20)))
	assert.True(t, r(0, 10).Intersect(r(10, 20)).Empty())
	assert.Equal(t, r(0, 20), r(0, 10).Hull(r(15, 20)))
	assert.Equal(t, r(3, 4), r(0, 0).Hull(r(3, 4)))
	assert.Equal(t, r(10, 20), r(0, 10).Shift(10))
	assert.Equal(t, int64(0), r(10, 0).Len())
	assert.True(t, r(0, 10).Contains(0))
	assert.False(t, r(0, 10).Contains(10))
	assert.True(t, r(0, 10).Overlaps(r(9, 11)))
}
