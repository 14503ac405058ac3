package buffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Capacity:     1024,
		PacketLength: 16,
		SubbandCount: 2,
		BeamCount:    1,
	}
}

// sampleAt is the deterministic test signal for absolute time t in subband sb.
func sampleAt(t int64, sb int) Sample {
	return Sample{XRe: int16(t), XIm: int16(t >> 16), YRe: int16(sb), YIm: -1}
}

func packet(cfg Config, ts int64) []byte {
	out := make([]byte, 0, cfg.PacketBytes())
	for sb := 0; sb < cfg.SubbandCount; sb++ {
		for i := 0; i < cfg.PacketLength; i++ {
			out = EncodeSample(out, sampleAt(ts+int64(i), sb))
		}
	}
	return out
}

func newTestBuffer(t *testing.T, cfg Config, opts ...Option) *BeamletBuffer {
	t.Helper()
	buf, err := NewBeamletBuffer(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

// writeSpan writes back-to-back packets covering [from, to).
func writeSpan(t *testing.T, buf *BeamletBuffer, from, to int64) {
	t.Helper()
	cfg := buf.Config()
	for ts := from; ts < to; ts += int64(cfg.PacketLength) {
		require.NoError(t, buf.WritePacket(context.Background(), packet(cfg, ts), ts))
	}
}

// requireSignal checks that data holds the test signal starting at absolute time begin.
func requireSignal(t *testing.T, data []byte, begin int64, sb int) {
	t.Helper()
	samples := DecodeSamples(data)
	for i, s := range samples {
		require.Equal(t, sampleAt(begin+int64(i), sb), s, "sample %d (t=%d)", i, begin+int64(i))
	}
}
