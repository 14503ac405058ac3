package buffer

import (
	"github.com/jjdmol/LOFAR-sub071/pkg/rangeset"
)

// Range is a half-open interval of absolute sample times.
type Range = rangeset.Range

// TimeIndex maps absolute sample times onto slots of a fixed-capacity circular store.
//
// Absolute time never wraps; only its slot does. Two times less than Capacity apart always
// map to distinct slots.
type TimeIndex struct {
	capacity int64
	mask     int64
	pow2     bool
}

// NewTimeIndex returns the index for a store of capacity slots.
func NewTimeIndex(capacity int) TimeIndex {
	c := int64(capacity)
	return TimeIndex{
		capacity: c,
		mask:     c - 1,
		pow2:     c > 0 && c&(c-1) == 0,
	}
}

// Capacity returns the number of slots.
func (ti TimeIndex) Capacity() int64 {
	return ti.capacity
}

// ToSlot returns t mod Capacity in [0, Capacity).
//
// This runs once per packet on the writer's hot path. A power-of-two capacity reduces it to
// a mask; any other capacity pays for a division.
func (ti TimeIndex) ToSlot(t int64) int {
	if ti.pow2 {
		return int(t & ti.mask)
	}
	s := t % ti.capacity
	if s < 0 {
		s += ti.capacity
	}
	return int(s)
}

// ToTime returns the latest absolute time not after near that maps onto slot.
func (ti TimeIndex) ToTime(slot int, near int64) int64 {
	back := int64(ti.ToSlot(near)) - int64(slot)
	if back < 0 {
		back += ti.capacity
	}
	return near - back
}

// Aliases returns the parts of r that occupy the same slots as some part of w.
// A write of w destroys exactly these samples of r.
func (ti TimeIndex) Aliases(w, r Range) []Range {
	if w.Empty() || r.Empty() {
		return nil
	}

	c := ti.capacity
	kMin := floorDiv(w.Begin-r.End, c)
	kMax := floorDiv(w.End-r.Begin, c)

	hits := rangeset.New()
	for k := kMin; k <= kMax; k++ {
		hits.Include(w.Shift(-k * c).Intersect(r))
	}
	return hits.Ranges()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
