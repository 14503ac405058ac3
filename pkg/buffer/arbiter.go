package buffer

import (
	"fmt"
	"sync"
)

// LeaseState is the lifecycle of a range lease.
type LeaseState int

const (
	// LeaseRequested means the lease is registered but not yet granted.
	LeaseRequested LeaseState = iota
	// LeaseActive means the holder may use the range.
	LeaseActive
	// LeaseReleased is terminal.
	LeaseReleased
)

func (s LeaseState) String() string {
	switch s {
	case LeaseRequested:
		return "requested"
	case LeaseActive:
		return "active"
	case LeaseReleased:
		return "released"
	default:
		return "unknown"
	}
}

// lease is a claim on a range of absolute times. Its fields are guarded by the arbiter's mutex.
type lease struct {
	id        uint64
	rng       Range
	state     LeaseState
	writer    bool
	truncated bool
}

// victim is the part of a reader lease that a pending write would destroy.
type victim struct {
	lease  *lease
	ranges []Range
}

// rangeArbiter tracks the reader leases and the single writer lease.
//
// Reader leases are granted immediately: readers never wait for the writer. The writer
// consults the arbiter, through the flow controller, before touching slots that alias a
// reader's range. All waiting happens on cond, which is broadcast on every release.
type rangeArbiter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	index   TimeIndex
	nextID  uint64
	readers map[uint64]*lease
	writer  *lease
	closed  bool
}

func newRangeArbiter(index TimeIndex) *rangeArbiter {
	a := &rangeArbiter{
		index:   index,
		readers: make(map[uint64]*lease),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// acquireRead registers and grants a reader lease on the span that place returns.
//
// place is handed the readable history with every time the current writer lease will
// overwrite already cut off. history, the clipping and the registration all run under the
// arbiter lock, so a reader is never granted slots of a write admitted before it.
func (a *rangeArbiter) acquireRead(history func() Range, place func(Range) Range) *lease {
	a.mu.Lock()
	defer a.mu.Unlock()

	readable := history()
	if a.writer != nil {
		readable = readable.Intersect(Range{Begin: a.writer.rng.End - a.index.Capacity(), End: readable.End})
	}
	r := place(readable)

	a.nextID++
	l := &lease{id: a.nextID, rng: r, state: LeaseRequested}
	a.readers[l.id] = l
	l.state = LeaseActive
	return l
}

// requestWriteLocked returns the writer lease extended to cover w. Requesting again while
// the lease is held merges the ranges. The lease stays Requested until grantWriteLocked.
func (a *rangeArbiter) requestWriteLocked(w Range) *lease {
	if a.writer == nil {
		a.nextID++
		a.writer = &lease{id: a.nextID, rng: w, state: LeaseRequested, writer: true}
		return a.writer
	}
	a.writer.rng = a.writer.rng.Hull(w)
	return a.writer
}

func (a *rangeArbiter) grantWriteLocked() {
	if a.writer != nil {
		a.writer.state = LeaseActive
	}
}

// releaseWrite drops the writer lease, if any.
func (a *rangeArbiter) releaseWrite() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.writer != nil {
		a.writer.state = LeaseReleased
		a.writer = nil
	}
}

// release ends a reader lease and wakes a waiting writer. Releasing twice panics.
func (a *rangeArbiter) release(l *lease) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if l.state == LeaseReleased {
		panic(fmt.Sprintf("buffer: lease %d released twice", l.id))
	}
	l.state = LeaseReleased
	delete(a.readers, l.id)
	a.cond.Broadcast()
}

// conflictsLocked returns, per reader lease, the absolute times a write of w would overwrite.
func (a *rangeArbiter) conflictsLocked(w Range) []victim {
	var out []victim
	for _, l := range a.readers {
		if hits := a.index.Aliases(w, l.rng); len(hits) > 0 {
			out = append(out, victim{lease: l, ranges: hits})
		}
	}
	return out
}

func (a *rangeArbiter) truncated(l *lease) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return l.truncated
}

func (a *rangeArbiter) activeReaders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.readers)
}

// close wakes any waiting writer for good.
func (a *rangeArbiter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.cond.Broadcast()
}
