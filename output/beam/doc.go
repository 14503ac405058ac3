// Package beam publishes the contents of the beamlet buffer, one message per beam and
// subband, as consumers read it.
//
// A Streamer keeps one read cursor per beam. Every Interval it looks at the newest sample
// written and schedules each window of Count samples that now ends at least the beam's
// Delay behind it. Windows run on a worker pool: each job opens one read transaction for
// all beams, copies every subband out, then asks the transaction for gaps so that samples
// overwritten during the copy are flagged. The lease is released before anything is
// published.
//
// A cursor that falls out of the buffer's history window is moved forward to the newest
// complete window and the skip is counted as a resync. The skipped data is gone anyway.
//
// # Messages
//
// Messages go out on "<subject>.<beam>.<subband>" with the raw little-endian samples as
// payload and these headers:
//
//	Beamlet-Tx         read transaction ID shared by every message of a window
//	Beamlet-Begin      requested window begin, absolute sample time
//	Beamlet-Count      requested window length in samples
//	Beamlet-Offset     samples between Begin and the first payload sample
//	Beamlet-Shift      slot alignment of the first payload sample
//	Beamlet-Gaps       JSON list of {"offset","length"} runs that must not be trusted
//	Beamlet-Truncated  "true" when the writer overwrote part of the window during the read
//
// DecodeMessage reverses the encoding for consumers.
//
// # Usage
//
//	publisher := beam.NewNATSPublisher(client, "beamlet", retry.DefaultConfig(), logger)
//	streamer, err := beam.NewStreamer(beam.Deps{
//	    Config:    beam.DefaultConfig(),
//	    Source:    buf,
//	    Publisher: publisher,
//	    Logger:    logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := streamer.Start(ctx); err != nil {
//	    return err
//	}
//	defer streamer.Stop(5 * time.Second)
package beam
