package buffer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/pkg/rangeset"
)

type beamWindow struct {
	requested Range
	window    Range // requested clipped to the readable history
	startSlot int
}

// ReadTransaction is a consistent view over one window per beam.
//
// A transaction holds one reader lease covering all its windows. The data may still be
// overwritten by an asynchronous writer, or by a synchronous writer after MaxNetworkDelay;
// Flags reports every sample that was, so query it after copying. A transaction belongs
// to one goroutine and must be ended exactly once.
type ReadTransaction struct {
	id    uuid.UUID
	buf   *BeamletBuffer
	count int
	beams []beamWindow
	span  Range
	lease *lease
	ended bool
}

// BeginRead opens a transaction reading count samples from begins[beam] for every beam.
// Windows are clipped to the readable history, minus any slots a write already admitted
// is about to overwrite; clipped parts show up in Flags.
func (b *BeamletBuffer) BeginRead(begins []int64, count int) (*ReadTransaction, error) {
	if len(begins) != b.cfg.BeamCount {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: got %d, want %d", errors.ErrBeamCount, len(begins), b.cfg.BeamCount),
			"BeamletBuffer", "BeginRead", "beam count check")
	}
	if count <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: count %d", errors.ErrInvalidWindow, count),
			"BeamletBuffer", "BeginRead", "window check")
	}
	if b.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrBufferClosed, "BeamletBuffer", "BeginRead", "closed check")
	}

	tx := &ReadTransaction{
		id:    uuid.New(),
		buf:   b,
		count: count,
		beams: make([]beamWindow, len(begins)),
	}
	history := func() Range {
		return b.validity.readable(int64(b.cfg.History()))
	}
	tx.lease = b.arbiter.acquireRead(history, func(readable Range) Range {
		for i, begin := range begins {
			requested := Range{Begin: begin, End: begin + int64(count)}
			window := requested.Intersect(readable)
			if window.Empty() {
				window = Range{Begin: begin, End: begin}
			}
			tx.beams[i] = beamWindow{
				requested: requested,
				window:    window,
				startSlot: b.index.ToSlot(window.Begin),
			}
			tx.span = tx.span.Hull(window)
		}
		return tx.span
	})

	b.stats.TransactionBegun()
	if b.metrics != nil {
		b.metrics.recordBegin()
	}
	return tx, nil
}

// Read runs fn inside a transaction and ends it when fn returns.
func (b *BeamletBuffer) Read(begins []int64, count int, fn func(tx *ReadTransaction) error) error {
	tx, err := b.BeginRead(begins, count)
	if err != nil {
		return err
	}
	defer tx.End()
	return fn(tx)
}

// ID returns the transaction's unique identifier.
func (tx *ReadTransaction) ID() uuid.UUID {
	return tx.id
}

// Count returns the number of samples requested per beam.
func (tx *ReadTransaction) Count() int {
	return tx.count
}

// Span returns the range covered by the transaction's lease.
func (tx *ReadTransaction) Span() Range {
	return tx.span
}

// Window returns the readable part of beam's requested window.
func (tx *ReadTransaction) Window(beam int) (Range, error) {
	if err := tx.check(beam, 0, "Window"); err != nil {
		return Range{}, err
	}
	return tx.beams[beam].window, nil
}

// AlignmentShift returns the first readable slot of beam modulo Alignment.
func (tx *ReadTransaction) AlignmentShift(beam int) (int, error) {
	if err := tx.check(beam, 0, "AlignmentShift"); err != nil {
		return 0, err
	}
	return tx.beams[beam].startSlot % Alignment, nil
}

// Slice returns beam's readable samples for subband. The result aliases the store when the
// window starts on an Alignment boundary and does not wrap; otherwise it is a copy.
func (tx *ReadTransaction) Slice(beam, subband int) (Slice, error) {
	if err := tx.check(beam, subband, "Slice"); err != nil {
		return Slice{}, err
	}

	bw := tx.beams[beam]
	out := tx.header(bw)
	if out.Samples == 0 {
		return out, nil
	}

	if out.Shift == 0 {
		if data, ok := tx.buf.store.view(subband, bw.startSlot, out.Samples); ok {
			out.Data = data
			return out, nil
		}
	}
	out.Kind = Copied
	out.Data = tx.buf.store.copyOut(subband, bw.startSlot, out.Samples, nil)
	return out, nil
}

// CopySlice is Slice that always copies, reusing dst when it is large enough.
func (tx *ReadTransaction) CopySlice(beam, subband int, dst []byte) (Slice, error) {
	if err := tx.check(beam, subband, "CopySlice"); err != nil {
		return Slice{}, err
	}

	bw := tx.beams[beam]
	out := tx.header(bw)
	out.Kind = Copied
	if out.Samples > 0 {
		out.Data = tx.buf.store.copyOut(subband, bw.startSlot, out.Samples, dst)
	}
	return out, nil
}

func (tx *ReadTransaction) header(bw beamWindow) Slice {
	return Slice{
		Kind:    Contiguous,
		Samples: int(bw.window.Len()),
		Offset:  int(bw.window.Begin - bw.requested.Begin),
		Shift:   bw.startSlot % Alignment,
	}
}

// Flags returns the runs of beam's requested window that hold no valid data at the time of
// the call: never written, lost in the stream, outside the readable history, or overwritten
// since the transaction began.
func (tx *ReadTransaction) Flags(beam int) ([]Gap, error) {
	if err := tx.check(beam, 0, "Flags"); err != nil {
		return nil, err
	}

	bw := tx.beams[beam]
	missing := rangeset.New(tx.buf.validity.gaps(bw.window)...)
	missing.Include(Range{Begin: bw.requested.Begin, End: bw.window.Begin})
	missing.Include(Range{Begin: bw.window.End, End: bw.requested.End})

	ranges := missing.Ranges()
	gaps := make([]Gap, 0, len(ranges))
	for _, r := range ranges {
		gaps = append(gaps, Gap{
			Offset: int(r.Begin - bw.requested.Begin),
			Length: int(r.Len()),
		})
	}
	return gaps, nil
}

// Truncated reports whether the writer has given up slots this transaction holds.
func (tx *ReadTransaction) Truncated() bool {
	return tx.buf.arbiter.truncated(tx.lease)
}

// End releases the transaction's lease. Ending twice panics.
func (tx *ReadTransaction) End() {
	if tx.ended {
		panic(fmt.Sprintf("buffer: read transaction %s ended twice", tx.id))
	}
	tx.ended = true

	truncated := tx.Truncated()
	tx.buf.arbiter.release(tx.lease)

	tx.buf.stats.TransactionEnded(truncated)
	if tx.buf.metrics != nil {
		tx.buf.metrics.recordEnd(truncated)
	}
}

func (tx *ReadTransaction) check(beam, subband int, method string) error {
	if tx.ended {
		return errors.WrapInvalid(errors.ErrTransactionClosed, "ReadTransaction", method, "transaction check")
	}
	if beam < 0 || beam >= len(tx.beams) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: beam %d of %d", errors.ErrIndexOutOfRange, beam, len(tx.beams)),
			"ReadTransaction", method, "beam check")
	}
	if subband < 0 || subband >= tx.buf.cfg.SubbandCount {
		return errors.WrapInvalid(
			fmt.Errorf("%w: subband %d of %d", errors.ErrIndexOutOfRange, subband, tx.buf.cfg.SubbandCount),
			"ReadTransaction", method, "subband check")
	}
	return nil
}
