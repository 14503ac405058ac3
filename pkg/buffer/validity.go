package buffer

import (
	"sync"

	"github.com/jjdmol/LOFAR-sub071/pkg/rangeset"
)

// validityTracker records which absolute times currently hold complete data.
//
// The writer brackets every store copy with beginWrite and markWritten. beginWrite moves
// head past the packet before any byte is copied, so every time in [head-Capacity, ...)
// that the copy can clobber has already dropped out of the set. A reader that checks
// validity after copying therefore never trusts a sample that was being overwritten.
type validityTracker struct {
	mu       sync.RWMutex
	valid    *rangeset.Set
	capacity int64

	head    int64 // end of the write in flight, or of the last write
	newest  int64 // end of the last completed write
	started bool
}

func newValidityTracker(capacity int64) *validityTracker {
	return &validityTracker{
		valid:    rangeset.New(),
		capacity: capacity,
	}
}

// beginWrite announces that r is about to be copied into the store.
func (v *validityTracker) beginWrite(r Range) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.started || r.End > v.head {
		v.head = r.End
	}
	v.valid.ExcludeBefore(v.head - v.capacity)
}

// markWritten records that r now holds complete data.
func (v *validityTracker) markWritten(r Range) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.valid.Include(r)
	if !v.started || r.End > v.newest {
		v.newest = r.End
	}
	v.started = true
}

// markInvalid removes r from the valid set.
func (v *validityTracker) markInvalid(r Range) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.valid.Exclude(r)
}

// gaps returns the parts of r that do not hold complete data.
func (v *validityTracker) gaps(r Range) []Range {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.valid.Gaps(r)
}

// readable returns the most recent span of history samples, ending at the newest
// completed write. It is empty before the first write.
func (v *validityTracker) readable(history int64) Range {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.started {
		return Range{}
	}
	return Range{Begin: v.newest - history, End: v.newest}
}

// newestWritten returns the end of the last completed write and whether any write happened.
func (v *validityTracker) newestWritten() (int64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.newest, v.started
}

// snapshot returns a copy of the valid ranges.
func (v *validityTracker) snapshot() []Range {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.valid.Ranges()
}
