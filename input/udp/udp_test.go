package udp

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/metric"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
)

const testPayloadSize = 64

// recordingWriter captures every batch handed to it.
type recordingWriter struct {
	mu         sync.Mutex
	batches    int
	timestamps []int64
	payloads   [][]byte
	err        error
}

func (w *recordingWriter) WritePackets(_ context.Context, payloads [][]byte, timestamps []int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches++
	w.timestamps = append(w.timestamps, timestamps...)
	for _, p := range payloads {
		w.payloads = append(w.payloads, append([]byte(nil), p...))
	}
	return w.err
}

func (w *recordingWriter) received() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int64(nil), w.timestamps...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	cfg.BatchSize = 4
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.ReadBuffer = 0
	return cfg
}

func startInput(t *testing.T, deps Deps) (*Input, *net.UDPConn) {
	t.Helper()
	in, err := NewInput(deps)
	require.NoError(t, err)
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(time.Second) })

	sender, err := net.DialUDP("udp", nil, in.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sender.Close() })
	return in, sender
}

func payload(fill byte, size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestFrame_RoundTrip(t *testing.T) {
	frame := EncodeFrame(-42, payload(7, testPayloadSize))
	require.Len(t, frame, HeaderSize+testPayloadSize)

	ts, p, err := ParseFrame(frame, testPayloadSize)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), ts)
	assert.Equal(t, payload(7, testPayloadSize), p)

	_, _, err = ParseFrame(frame[:20], testPayloadSize)
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
	assert.True(t, errors.IsInvalid(err))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"negative port":  func(c *Config) { c.Port = -1 },
		"port too large": func(c *Config) { c.Port = 70000 },
		"zero batch":     func(c *Config) { c.BatchSize = 0 },
		"zero flush":     func(c *Config) { c.FlushInterval = 0 },
		"bad retry":      func(c *Config) { c.Retry.Multiplier = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestNewInput_Validation(t *testing.T) {
	_, err := NewInput(Deps{Config: testConfig(), PayloadSize: testPayloadSize})
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	_, err = NewInput(Deps{Config: testConfig(), Writer: &recordingWriter{}})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestInput_BatchesFrames(t *testing.T) {
	writer := &recordingWriter{}
	in, sender := startInput(t, Deps{Config: testConfig(), Writer: writer, PayloadSize: testPayloadSize})

	for i := 0; i < 6; i++ {
		_, err := sender.Write(EncodeFrame(int64(i*16), payload(byte(i), testPayloadSize)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(writer.received()) == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{0, 16, 32, 48, 64, 80}, writer.received())

	writer.mu.Lock()
	assert.Equal(t, payload(5, testPayloadSize), writer.payloads[5])
	assert.GreaterOrEqual(t, writer.batches, 2, "six frames never fit one batch of four")
	writer.mu.Unlock()

	stats := in.Stats()
	assert.Equal(t, int64(6), stats.PacketsReceived)
	assert.Equal(t, int64(6*(HeaderSize+testPayloadSize)), stats.BytesReceived)
	assert.True(t, stats.Running)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestInput_DropsMalformedFrames(t *testing.T) {
	writer := &recordingWriter{}
	registry := metric.NewMetricsRegistry()
	in, sender := startInput(t, Deps{
		Config:          testConfig(),
		Writer:          writer,
		PayloadSize:     testPayloadSize,
		MetricsRegistry: registry,
	})

	_, err := sender.Write([]byte("not a frame"))
	require.NoError(t, err)
	_, err = sender.Write(EncodeFrame(0, payload(1, testPayloadSize)))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(writer.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), in.Stats().Malformed)
	assert.Equal(t, float64(1), testutil.ToFloat64(in.metrics.malformed))
	assert.Equal(t, float64(2), testutil.ToFloat64(in.metrics.packetsReceived))
}

// syncBuffer is a log sink safe for the read loop and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInput_MalformedWarningsAreRateLimited(t *testing.T) {
	logs := &syncBuffer{}
	in, sender := startInput(t, Deps{
		Config:      testConfig(),
		Writer:      &recordingWriter{},
		PayloadSize: testPayloadSize,
		Logger:      slog.New(slog.NewTextHandler(logs, nil)),
	})

	const sent = 50
	for i := 0; i < sent; i++ {
		_, err := sender.Write([]byte("garbage"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return in.Stats().Malformed == sent }, 2*time.Second, 5*time.Millisecond)
	warned := strings.Count(logs.String(), "Dropped malformed frame")
	assert.GreaterOrEqual(t, warned, 1)
	assert.LessOrEqual(t, warned, warnBurst+2)
}

func TestInput_CountsWriteErrors(t *testing.T) {
	writer := &recordingWriter{err: errors.WrapFatal(errors.ErrPayloadSize, "test", "WritePackets", "size")}
	in, sender := startInput(t, Deps{Config: testConfig(), Writer: writer, PayloadSize: testPayloadSize})

	_, err := sender.Write(EncodeFrame(0, payload(1, testPayloadSize)))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return in.Stats().WriteErrors == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, in.Stats().Running, "write errors do not stop the input")
}

func TestInput_StopIsIdempotent(t *testing.T) {
	in, err := NewInput(Deps{Config: testConfig(), Writer: &recordingWriter{}, PayloadSize: testPayloadSize})
	require.NoError(t, err)

	assert.NoError(t, in.Stop(time.Second), "stop before start")
	require.NoError(t, in.Start(context.Background()))
	require.NoError(t, in.Start(context.Background()), "start is idempotent")
	require.NoError(t, in.Stop(time.Second))
	require.NoError(t, in.Stop(time.Second))
	assert.Nil(t, in.Addr())
	assert.False(t, in.Stats().Running)
}

func TestInput_FeedsBeamletBuffer(t *testing.T) {
	bufCfg := buffer.Config{Capacity: 256, PacketLength: 4, SubbandCount: 2, BeamCount: 1}
	buf, err := buffer.NewBeamletBuffer(bufCfg)
	require.NoError(t, err)
	defer buf.Close()

	_, sender := startInput(t, Deps{Config: testConfig(), Writer: buf, PayloadSize: bufCfg.PacketBytes()})

	for ts := int64(0); ts < 64; ts += 4 {
		if ts == 32 {
			continue // lost datagram
		}
		var p []byte
		for sb := 0; sb < bufCfg.SubbandCount; sb++ {
			for i := int64(0); i < 4; i++ {
				p = buffer.EncodeSample(p, buffer.Sample{XRe: int16(ts + i), YRe: int16(sb)})
			}
		}
		_, err := sender.Write(EncodeFrame(ts, p))
		require.NoError(t, err)
		// Loopback UDP keeps order, but give the reader a chance to keep up
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		end, ok := buf.NewestWritten()
		return ok && end == 64
	}, 2*time.Second, 5*time.Millisecond)

	err = buf.Read([]int64{0}, 64, func(tx *buffer.ReadTransaction) error {
		gaps, err := tx.Flags(0)
		require.NoError(t, err)
		assert.Equal(t, []buffer.Gap{{Offset: 32, Length: 4}}, gaps)

		s, err := tx.Slice(0, 1)
		require.NoError(t, err)
		samples := buffer.DecodeSamples(s.Data)
		assert.Equal(t, buffer.Sample{XRe: 12, YRe: 1}, samples[12])
		return nil
	})
	require.NoError(t, err)
}
