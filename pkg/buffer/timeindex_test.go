package buffer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeIndex_SlotProperties(t *testing.T) {
	for _, capacity := range []int{1024, 1000, 48} {
		t.Run(fmt.Sprintf("capacity_%d", capacity), func(t *testing.T) {
			ti := NewTimeIndex(capacity)
			c := int64(capacity)

			for tm := -3 * c; tm < 3*c; tm += 7 {
				slot := ti.ToSlot(tm)
				require.GreaterOrEqual(t, slot, 0)
				require.Less(t, slot, capacity)
				require.Equal(t, slot, ti.ToSlot(tm+c), "t=%d", tm)
			}

			seen := make(map[int]int64, capacity)
			for tm := int64(5000); tm < 5000+c; tm++ {
				slot := ti.ToSlot(tm)
				prev, dup := seen[slot]
				require.False(t, dup, "times %d and %d share slot %d", prev, tm, slot)
				seen[slot] = tm
			}
		})
	}
}

func TestTimeIndex_ToTime(t *testing.T) {
	ti := NewTimeIndex(1000)

	assert.Equal(t, int64(2500), ti.ToTime(500, 2500))
	assert.Equal(t, int64(2400), ti.ToTime(400, 2500))
	assert.Equal(t, int64(1600), ti.ToTime(600, 2500))
	assert.Equal(t, 600, ti.ToSlot(ti.ToTime(600, 2500)))
}

func TestTimeIndex_Aliases(t *testing.T) {
	ti := NewTimeIndex(1024)

	testCases := []struct {
		name     string
		write    Range
		reader   Range
		expected []Range
	}{
		{"overwrites oldest", Range{Begin: 1024, End: 1040}, Range{Begin: 0, End: 64}, []Range{{Begin: 0, End: 16}}},
		{"reader past overwritten slots", Range{Begin: 1024, End: 1040}, Range{Begin: 16, End: 64}, nil},
		{"wrapping write", Range{Begin: 2040, End: 2056}, Range{Begin: 1000, End: 1032}, []Range{{Begin: 1016, End: 1032}}},
		{"disjoint slots", Range{Begin: 1024, End: 1040}, Range{Begin: 500, End: 700}, nil},
		{"same times", Range{Begin: 100, End: 116}, Range{Begin: 90, End: 110}, []Range{{Begin: 100, End: 110}}},
		{"empty reader", Range{Begin: 1024, End: 1040}, Range{Begin: 5, End: 5}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ti.Aliases(tc.write, tc.reader))
		})
	}
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(7, 3))
	assert.Equal(t, int64(-3), floorDiv(-7, 3))
	assert.Equal(t, int64(-2), floorDiv(-6, 3))
	assert.Equal(t, int64(0), floorDiv(0, 3))
}
