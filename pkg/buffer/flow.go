package buffer

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// admission is the flow controller's verdict on one write.
type admission struct {
	// victims are the reader times the write destroys. The caller invalidates them.
	victims []Range
	waited  bool
	stalled time.Duration
	forced  bool
}

// flowController decides, per write, whether the writer may overwrite slots that readers
// still hold.
//
// In synchronous mode the writer waits until the conflicting readers release, or until
// maxDelay passes on clk, after which the conflicting times are given up. A reader that
// has been given up once is truncated for the rest of its transaction and never makes the
// writer wait again. In asynchronous mode the writer never waits.
type flowController struct {
	arbiter     *rangeArbiter
	synchronous bool
	maxDelay    time.Duration
	clk         clock.Clock
	logger      *slog.Logger

	// blocked is told when the writer starts and stops waiting. It runs under the arbiter lock.
	blocked func(bool)
}

// admit registers w on the writer lease and returns once the write may proceed.
func (f *flowController) admit(ctx context.Context, w Range) (admission, error) {
	a := f.arbiter
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return admission{}, errors.WrapInvalid(errors.ErrBufferClosed, "BeamletBuffer", "WritePacket", "write admission")
	}

	a.requestWriteLocked(w)
	conflicts := a.conflictsLocked(w)
	if !f.synchronous || !blocking(conflicts) {
		adm := admission{victims: f.giveUpLocked(conflicts)}
		a.grantWriteLocked()
		a.mu.Unlock()
		return adm, nil
	}

	start := f.clk.Now()
	expired := false
	timer := f.clk.AfterFunc(f.maxDelay, func() {
		a.mu.Lock()
		expired = true
		a.mu.Unlock()
		a.cond.Broadcast()
	})
	stopCtx := context.AfterFunc(ctx, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.cond.Broadcast()
	})

	var (
		adm = admission{waited: true}
		err error
	)
	f.setBlocked(true)
	for {
		conflicts = a.conflictsLocked(w)
		if !blocking(conflicts) {
			adm.victims = f.giveUpLocked(conflicts)
			break
		}
		if a.closed {
			err = errors.WrapInvalid(errors.ErrBufferClosed, "BeamletBuffer", "WritePacket", "write admission")
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.WrapTransient(ctxErr, "BeamletBuffer", "WritePacket", "wait for readers")
			break
		}
		if expired {
			adm.forced = true
			adm.victims = f.giveUpLocked(conflicts)
			break
		}
		a.cond.Wait()
	}
	f.setBlocked(false)
	if err == nil {
		a.grantWriteLocked()
	}
	a.mu.Unlock()

	// Stopped outside the arbiter lock: the timer callback takes it.
	timer.Stop()
	stopCtx()

	adm.stalled = f.clk.Since(start)
	if adm.forced {
		f.logger.Warn("Writer overran slow readers",
			"write", w.String(),
			"victims", len(adm.victims),
			"waited", adm.stalled)
	}
	return adm, err
}

// giveUpLocked flags the leases in conflicts as truncated and returns the lost times.
func (f *flowController) giveUpLocked(conflicts []victim) []Range {
	var lost []Range
	for _, c := range conflicts {
		c.lease.truncated = true
		lost = append(lost, c.ranges...)
	}
	return lost
}

func (f *flowController) setBlocked(b bool) {
	if f.blocked != nil {
		f.blocked(b)
	}
}

// blocking reports whether any conflict is with a reader the writer still has to wait for.
func blocking(conflicts []victim) bool {
	for _, c := range conflicts {
		if !c.lease.truncated {
			return true
		}
	}
	return false
}
