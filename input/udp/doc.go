// Package udp receives station board packets over UDP and writes them into the beamlet buffer.
//
// # Frame Format
//
// Each datagram carries one packet:
//
//	offset 0   int64 little-endian   absolute time of the first sample
//	offset 8   payload               SubbandCount x PacketLength samples, subband-major
//
// Datagrams of any other size are counted as malformed and dropped.
//
// # Batching
//
// Parsed packets are collected into batches of BatchSize and handed to the buffer with a
// single WritePackets call. A partial batch is flushed when no datagram arrives within
// FlushInterval, and on Stop.
//
// # Usage
//
//	in, err := udp.NewInput(udp.Deps{
//	    Config:          udp.DefaultConfig(),
//	    Writer:          buf,
//	    PayloadSize:     buf.Config().PacketBytes(),
//	    MetricsRegistry: registry,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := in.Start(ctx); err != nil {
//	    return err
//	}
//	defer in.Stop(5 * time.Second)
//
// Binding retries with the Retry schedule, since a restarted daemon may find its port
// still held for a moment.
package udp
