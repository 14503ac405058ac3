package buffer

import (
	"context"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// cursor is the writer's position in the packet stream.
type cursor struct {
	previousTimestamp int64 // first sample of the last stored packet
	currentTimestamp  int64 // expected timestamp of the next packet
	started           bool
}

// behind classifies a packet that starts before the cursor. A packet at or before the
// previous one is a duplicate or a rewind; one in between overlaps the previous packet.
func (c *cursor) behind(ts int64) string {
	if ts <= c.previousTimestamp {
		return "rewind"
	}
	return "overlap"
}

// WritePacket stores one packet whose first sample has absolute time ts.
//
// payload is subband-major: SubbandCount runs of PacketLength samples. A packet behind the
// cursor is dropped and counted, never written. A packet ahead of the cursor marks the
// skipped times invalid before it is stored.
func (b *BeamletBuffer) WritePacket(ctx context.Context, payload []byte, ts int64) error {
	if len(payload) != b.cfg.PacketBytes() {
		return errors.WrapFatal(errors.ErrPayloadSize, "BeamletBuffer", "WritePacket", "payload size check")
	}
	if b.closed.Load() {
		return errors.WrapInvalid(errors.ErrBufferClosed, "BeamletBuffer", "WritePacket", "closed check")
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	defer b.arbiter.releaseWrite()

	return b.writeLocked(ctx, payload, ts)
}

// WritePackets stores a batch of packets under one writer lease. timestamps[i] belongs to
// payloads[i]. Sizes are checked for the whole batch before anything is written.
func (b *BeamletBuffer) WritePackets(ctx context.Context, payloads [][]byte, timestamps []int64) error {
	if len(payloads) != len(timestamps) {
		return errors.WrapInvalid(errors.ErrLengthMismatch, "BeamletBuffer", "WritePackets", "batch length check")
	}
	size := b.cfg.PacketBytes()
	for _, p := range payloads {
		if len(p) != size {
			return errors.WrapFatal(errors.ErrPayloadSize, "BeamletBuffer", "WritePackets", "payload size check")
		}
	}
	if b.closed.Load() {
		return errors.WrapInvalid(errors.ErrBufferClosed, "BeamletBuffer", "WritePackets", "closed check")
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	defer b.arbiter.releaseWrite()

	for i, p := range payloads {
		if err := b.writeLocked(ctx, p, timestamps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *BeamletBuffer) writeLocked(ctx context.Context, payload []byte, ts int64) error {
	c := &b.cursor

	if c.started && ts != c.currentTimestamp {
		if ts < c.currentTimestamp {
			b.stats.Rejected()
			if b.metrics != nil {
				b.metrics.recordReject()
			}
			b.logger.Debug("Dropped packet behind write cursor",
				"timestamp", ts,
				"expected", c.currentTimestamp,
				"reason", c.behind(ts))
			return nil
		}

		gap := Range{Begin: c.currentTimestamp, End: ts}
		b.validity.markInvalid(gap)
		b.stats.Gap(gap.Len())
		if b.metrics != nil {
			b.metrics.recordGap(gap.Len())
		}
		b.logger.Debug("Packet stream gap", "missing", gap.String())
	}

	w := Range{Begin: ts, End: ts + int64(b.cfg.PacketLength)}

	adm, err := b.flow.admit(ctx, w)
	if err != nil {
		return err
	}
	if adm.waited {
		b.stats.Stalled(adm.stalled, adm.forced)
		if b.metrics != nil {
			b.metrics.recordStall(adm.stalled, adm.forced)
		}
	}
	for _, v := range adm.victims {
		b.validity.markInvalid(v)
		b.stats.Invalidated(v.Len())
		if b.metrics != nil {
			b.metrics.recordInvalidated(v.Len())
		}
	}

	b.validity.beginWrite(w)
	b.store.writePacket(b.index.ToSlot(ts), payload)
	b.validity.markWritten(w)

	c.previousTimestamp, c.currentTimestamp = ts, w.End
	c.started = true

	b.stats.Written(w.End)
	if b.metrics != nil {
		b.metrics.recordWrite(w.End)
	}
	return nil
}
