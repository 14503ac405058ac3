package beam

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
)

func testGeometry() buffer.Config {
	return buffer.Config{
		Capacity:     1024,
		PacketLength: 16,
		SubbandCount: 2,
		BeamCount:    2,
	}
}

func sampleAt(t int64, sb int) buffer.Sample {
	return buffer.Sample{XRe: int16(t), YRe: int16(sb)}
}

func newTestBuffer(t *testing.T, cfg buffer.Config) *buffer.BeamletBuffer {
	t.Helper()
	buf, err := buffer.NewBeamletBuffer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

// writeSpan writes back-to-back packets covering [from, to), skipping the packets that
// start at any of skip.
func writeSpan(t *testing.T, buf *buffer.BeamletBuffer, from, to int64, skip ...int64) {
	t.Helper()
	cfg := buf.Config()
	skipped := make(map[int64]bool, len(skip))
	for _, ts := range skip {
		skipped[ts] = true
	}
	for ts := from; ts < to; ts += int64(cfg.PacketLength) {
		if skipped[ts] {
			continue
		}
		payload := make([]byte, 0, cfg.PacketBytes())
		for sb := 0; sb < cfg.SubbandCount; sb++ {
			for i := 0; i < cfg.PacketLength; i++ {
				payload = buffer.EncodeSample(payload, sampleAt(ts+int64(i), sb))
			}
		}
		require.NoError(t, buf.WritePacket(context.Background(), payload, ts))
	}
}

// recordingPublisher keeps every published message.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

func (p *recordingPublisher) find(beam, subband int, begin int64) (Message, bool) {
	for _, m := range p.messages() {
		if m.Beam == beam && m.Subband == subband && m.Begin == begin {
			return m, true
		}
	}
	return Message{}, false
}
