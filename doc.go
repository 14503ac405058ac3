// Package beamlet is the input buffer of a LOFAR station processing node: it receives
// beamlet packets from the station boards over UDP, keeps the most recent samples per beam
// and subband in a fixed circular store, and streams delayed windows of them to
// consumers over NATS and, optionally, a websocket feed.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          UDP input                  │  Framed packets, batched writes
//	│   (input/udp)                       │  Malformed frames dropped
//	└─────────────────────────────────────┘
//	           ↓ WritePackets
//	┌─────────────────────────────────────┐
//	│        Beamlet buffer               │  Circular [subband][slot] store
//	│   (pkg/buffer)                      │  Validity ranges, reader leases
//	└─────────────────────────────────────┘
//	           ↑ BeginRead / Flags / End
//	┌─────────────────────────────────────┐
//	│        Streamer                     │  One cursor per beam
//	│   (output/beam)                     │  Windows on a worker pool
//	└─────────────────────────────────────┘
//	           ↓ Publish
//	┌──────────────────┐  ┌──────────────────┐
//	│  NATS subjects   │  │  Websocket feed  │
//	│  <subject>.b.sb  │  │  (output/ws)     │
//	└──────────────────┘  └──────────────────┘
//
// The writer never waits for readers unless the buffer runs synchronously. In that mode
// a writer about to overwrite a slot that an active read transaction holds waits up to
// the configured network delay, then writes anyway and flags the reader's window.
// Readers learn about every sample they cannot trust through the gap list of their
// transaction: samples never written, samples lost to skipped packets, and samples
// overwritten while they were copying.
//
// # Packages
//
//   - pkg/buffer: TimeIndex, SampleStore, validity tracking, reader arbitration and
//     the BeamletBuffer that ties them together
//   - pkg/rangeset: disjoint half-open ranges over absolute sample time
//   - input/udp: the socket reader feeding the buffer
//   - output/beam: the Streamer and its NATS publisher
//   - output/websocket: live window feed for operators
//   - config: layered YAML/JSON configuration with environment overrides
//   - natsclient: connection management with circuit breaking and reconnect backoff
//   - health, metric: /health and Prometheus endpoints
//   - cmd/beamletd: the daemon
//
// # Running
//
//	beamletd -config /etc/beamletd/station.yaml
//	beamletd -config base.yaml,site.json -validate
//	BEAMLET_NATS_URLS=nats://cep:4222 beamletd -log-format text
package beamlet
