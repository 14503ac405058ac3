package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/metric"
	"github.com/jjdmol/LOFAR-sub071/pkg/retry"
)

// Bursts of bad datagrams or failing writes log at most warnBurst lines, then one per warnEvery.
const (
	warnEvery = time.Second
	warnBurst = 5
)

// PacketWriter stores batches of packets. *buffer.BeamletBuffer satisfies it.
type PacketWriter interface {
	WritePackets(ctx context.Context, payloads [][]byte, timestamps []int64) error
}

// Config holds configuration for the UDP input
type Config struct {
	Bind string `json:"bind" yaml:"bind"`
	Port int    `json:"port" yaml:"port"` // 0 picks a free port

	// BatchSize is the number of datagrams handed to the buffer per write.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// FlushInterval bounds how long a partial batch waits for more datagrams.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// ReadBuffer is the requested kernel socket buffer in bytes.
	ReadBuffer int `json:"read_buffer" yaml:"read_buffer"`

	Retry retry.Config `json:"retry" yaml:"retry"`
}

// DefaultConfig returns the settings for one station board stream.
func DefaultConfig() Config {
	return Config{
		Bind:          "0.0.0.0",
		Port:          4346,
		BatchSize:     8,
		FlushInterval: 10 * time.Millisecond,
		ReadBuffer:    8 * 1024 * 1024,
		Retry:         retry.Quick(),
	}
}

// Validate checks the input configuration.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.WrapInvalid(fmt.Errorf("%w: invalid port %d", errors.ErrInvalidConfig, c.Port),
			"udp-input", "Validate", "port validation")
	case c.BatchSize <= 0:
		return errors.WrapInvalid(fmt.Errorf("%w: batch_size must be positive", errors.ErrInvalidConfig),
			"udp-input", "Validate", "batch validation")
	case c.FlushInterval <= 0:
		return errors.WrapInvalid(fmt.Errorf("%w: flush_interval must be positive", errors.ErrInvalidConfig),
			"udp-input", "Validate", "batch validation")
	}
	return c.Retry.Validate()
}

// Deps are the runtime dependencies of an Input.
type Deps struct {
	Config          Config
	Writer          PacketWriter
	PayloadSize     int                     // bytes of packet payload after the frame header
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Input listens for framed packets and writes them into the beamlet buffer.
type Input struct {
	cfg         Config
	writer      PacketWriter
	payloadSize int
	logger      *slog.Logger
	metrics     *Metrics
	warnings    *rate.Limiter

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	mu       sync.RWMutex
	conn     *net.UDPConn

	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	malformed       atomic.Int64
	writeErrors     atomic.Int64
	batches         atomic.Int64
	lastActivity    atomic.Value // time.Time
}

// NewInput validates deps and builds an Input. Call Start to begin receiving.
func NewInput(deps Deps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Writer == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil packet writer", errors.ErrMissingConfig),
			"udp-input", "NewInput", "writer validation")
	}
	if deps.PayloadSize <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: payload size %d", errors.ErrInvalidConfig, deps.PayloadSize),
			"udp-input", "NewInput", "payload validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "udp-input", "port", deps.Config.Port)

	metrics, err := newMetrics(deps.MetricsRegistry, deps.Config.Port)
	if err != nil {
		return nil, errors.WrapFatal(err, "udp-input", "NewInput", "metrics registration")
	}

	u := &Input{
		cfg:         deps.Config,
		writer:      deps.Writer,
		payloadSize: deps.PayloadSize,
		logger:      logger,
		metrics:     metrics,
		warnings:    rate.NewLimiter(rate.Every(warnEvery), warnBurst),
	}
	u.lastActivity.Store(time.Time{})
	return u, nil
}

// Start binds the socket, retrying while the port is busy, and launches the read loop.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil
	}

	if err := retry.Do(ctx, u.cfg.Retry, u.bindSocket); err != nil {
		return errors.WrapTransient(err, "udp-input", "Start", "socket binding")
	}

	u.shutdown = make(chan struct{})
	u.done = make(chan struct{})
	u.running.Store(true)

	conn, shutdown, done := u.conn, u.shutdown, u.done
	go func() {
		defer close(done)
		u.readLoop(ctx, conn, shutdown)
	}()

	u.logger.Info("UDP input started", "addr", u.conn.LocalAddr().String())
	return nil
}

func (u *Input) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.cfg.Bind, fmt.Sprint(u.cfg.Port)))
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("failed to resolve UDP address %s:%d: %w", u.cfg.Bind, u.cfg.Port, err))
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", u.cfg.Port, err)
	}

	if u.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(u.cfg.ReadBuffer); err != nil {
			u.logger.Warn("Could not set UDP buffer size",
				"buffer_size", u.cfg.ReadBuffer,
				"error", err)
		}
	}

	u.conn = conn
	return nil
}

// Addr returns the bound local address, or nil before Start.
func (u *Input) Addr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Stop closes the socket and waits up to timeout for the read loop to flush and exit.
func (u *Input) Stop(timeout time.Duration) error {
	if !u.running.CompareAndSwap(true, false) {
		return nil
	}

	u.mu.Lock()
	close(u.shutdown)
	done := u.done
	u.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp-input", "Stop", "graceful shutdown")
	}

	u.mu.Lock()
	_ = u.conn.Close()
	u.conn = nil
	u.mu.Unlock()

	u.logger.Info("UDP input stopped",
		"packets", u.packetsReceived.Load(),
		"malformed", u.malformed.Load())
	return nil
}

// batch accumulates parsed packets between buffer writes. Payload slots are reused.
type batch struct {
	payloads   [][]byte
	timestamps []int64
	n          int
}

func newBatch(size, payloadSize int) *batch {
	b := &batch{
		payloads:   make([][]byte, size),
		timestamps: make([]int64, size),
	}
	for i := range b.payloads {
		b.payloads[i] = make([]byte, payloadSize)
	}
	return b
}

func (u *Input) readLoop(ctx context.Context, conn *net.UDPConn, shutdown <-chan struct{}) {
	frame := make([]byte, 65536)
	pending := newBatch(u.cfg.BatchSize, u.payloadSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			u.flush(ctx, pending)
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(u.cfg.FlushInterval))
		n, _, err := conn.ReadFromUDP(frame)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				u.flush(ctx, pending)
				continue
			}
			select {
			case <-shutdown:
				u.flush(ctx, pending)
				return
			default:
			}
			if u.metrics != nil {
				u.metrics.socketErrors.Inc()
			}
			if u.warnings.Allow() {
				u.logger.Warn("UDP read error", "error", err)
			}
			continue
		}

		u.packetsReceived.Add(1)
		u.bytesReceived.Add(int64(n))
		u.lastActivity.Store(time.Now())
		if u.metrics != nil {
			u.metrics.packetsReceived.Inc()
			u.metrics.bytesReceived.Add(float64(n))
			u.metrics.lastActivity.SetToCurrentTime()
		}

		ts, payload, err := ParseFrame(frame[:n], u.payloadSize)
		if err != nil {
			u.malformed.Add(1)
			if u.metrics != nil {
				u.metrics.malformed.Inc()
			}
			if u.warnings.Allow() {
				u.logger.Warn("Dropped malformed frame",
					"size", n, "error", err, "total", u.malformed.Load())
			}
			continue
		}

		copy(pending.payloads[pending.n], payload)
		pending.timestamps[pending.n] = ts
		pending.n++
		if pending.n == len(pending.payloads) {
			u.flush(ctx, pending)
		}
	}
}

func (u *Input) flush(ctx context.Context, b *batch) {
	if b.n == 0 {
		return
	}
	count := b.n
	b.n = 0

	start := time.Now()
	err := u.writer.WritePackets(ctx, b.payloads[:count], b.timestamps[:count])
	u.batches.Add(1)
	if u.metrics != nil {
		u.metrics.batchSize.Observe(float64(count))
		u.metrics.writeLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		u.writeErrors.Add(1)
		if u.metrics != nil {
			u.metrics.writeErrors.Inc()
		}
		if u.warnings.Allow() {
			u.logger.Error("Buffer write failed",
				"packets", count, "error", err, "total", u.writeErrors.Load())
		}
	}
}

// Stats is a snapshot of the input's counters.
type Stats struct {
	PacketsReceived int64     `json:"packets_received"`
	BytesReceived   int64     `json:"bytes_received"`
	Malformed       int64     `json:"malformed"`
	Batches         int64     `json:"batches"`
	WriteErrors     int64     `json:"write_errors"`
	LastActivity    time.Time `json:"last_activity"`
	Running         bool      `json:"running"`
}

// Stats returns the input's counters.
func (u *Input) Stats() Stats {
	last, _ := u.lastActivity.Load().(time.Time)
	return Stats{
		PacketsReceived: u.packetsReceived.Load(),
		BytesReceived:   u.bytesReceived.Load(),
		Malformed:       u.malformed.Load(),
		Batches:         u.batches.Load(),
		WriteErrors:     u.writeErrors.Load(),
		LastActivity:    last,
		Running:         u.running.Load(),
	}
}
