// Package buffer provides the beamlet buffer: a fixed-capacity circular store of
// time-indexed samples with one writer, many readers, and per-sample validity tracking.
//
// # Overview
//
// A station board emits packets of PacketLength consecutive samples for each of
// SubbandCount subbands, stamped with the absolute time of the first sample. The buffer
// keeps the most recent Capacity samples per subband. Beamformers read windows of recent
// history, one window per beam, and learn which samples in them can be trusted.
//
// Absolute time is an int64 sample counter. It never wraps; its slot in the store is
// time modulo Capacity (see TimeIndex).
//
// # Quick Start
//
//	buf, err := buffer.NewBeamletBuffer(buffer.Config{
//		Capacity:     1 << 16,
//		PacketLength: 16,
//		SubbandCount: 61,
//		BeamCount:    2,
//	}, buffer.WithMetrics(registry, "station_cs002"))
//	if err != nil {
//		return err
//	}
//
//	// Writer goroutine
//	err = buf.WritePacket(ctx, payload, timestamp)
//
//	// Reader goroutine
//	err = buf.Read([]int64{t0, t1}, 4096, func(tx *buffer.ReadTransaction) error {
//		s, err := tx.Slice(0, subband)
//		if err != nil {
//			return err
//		}
//		process(s.Data)
//		gaps, err := tx.Flags(0) // after using the data
//		...
//	})
//
// # Writer
//
// Packets are expected back to back. A packet whose timestamp lies before the write
// cursor is dropped and counted. A packet beyond the cursor marks the skipped times
// invalid. A packet crossing the end of the store is split into two copies.
//
// # Readers and Flow Control
//
// A ReadTransaction leases the span of its windows. Before overwriting a slot, the
// writer checks whether a reader lease holds the time currently stored there:
//
//   - Asynchronous (default): the writer never waits. Overwritten reader samples are
//     flagged and the transaction reports Truncated.
//   - Synchronous: the writer waits until the reader ends, or until MaxNetworkDelay
//     passes, after which the samples are given up as above. A truncated transaction
//     never holds the writer up again.
//
// A transaction that begins while a write is in flight does not get the slots that write
// is overwriting; they are clipped from its windows and show up in Flags.
//
// Validity is recorded after every copy, and each write invalidates the times it is about
// to clobber before copying. Flags queried after reading therefore covers every sample
// that may have been torn.
//
// # Slices
//
// Slice returns a view into the store when the window starts on an Alignment boundary
// and does not wrap, and a copy otherwise. Shift carries the first slot modulo Alignment
// for consumers that process in Alignment-sized blocks. CopySlice always copies and yields
// the same bytes.
//
// # Statistics and Metrics
//
// Statistics are always collected (see Stats). WithMetrics exports them to Prometheus
// under the beamlet_buffer_ prefix.
//
// # Thread Safety
//
// One goroutine may write at a time; concurrent writer calls are serialized. Any number
// of goroutines may hold transactions, but a single transaction is not safe for
// concurrent use.
package buffer
