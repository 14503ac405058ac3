package beam

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/metric"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
	"github.com/jjdmol/LOFAR-sub071/pkg/retry"
	"github.com/jjdmol/LOFAR-sub071/pkg/worker"
)

// Config holds configuration for the beam streamer.
type Config struct {
	// Subject is the prefix of every published subject.
	Subject string `json:"subject" yaml:"subject"`

	// Count is the number of samples per beam in one read window.
	Count int `json:"count" yaml:"count"`

	// Interval is how often the streamer checks for new complete windows.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Delay is how far, in samples, a window's end stays behind the newest written sample.
	// Delays overrides it per beam.
	Delay  int   `json:"delay" yaml:"delay"`
	Delays []int `json:"delays,omitempty" yaml:"delays,omitempty"`

	// MaxCatchUp caps the windows scheduled per tick.
	MaxCatchUp int `json:"max_catch_up" yaml:"max_catch_up"`

	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	Retry retry.Config `json:"retry" yaml:"retry"`
}

// DefaultConfig returns a streamer that publishes 256-sample windows one packet burst
// behind the writer.
func DefaultConfig() Config {
	return Config{
		Subject:    "beamlet",
		Count:      256,
		Interval:   10 * time.Millisecond,
		Delay:      1024,
		MaxCatchUp: 16,
		Workers:    4,
		QueueSize:  64,
		Retry:      retry.DefaultConfig(),
	}
}

// Validate checks the streamer configuration.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
			"beam-streamer", "Validate", "config check")
	}

	switch {
	case c.Subject == "":
		return invalid("subject is required")
	case c.Count <= 0:
		return invalid("count must be positive, got %d", c.Count)
	case c.Interval <= 0:
		return invalid("interval must be positive, got %v", c.Interval)
	case c.Delay < 0:
		return invalid("delay cannot be negative, got %d", c.Delay)
	case c.MaxCatchUp <= 0:
		return invalid("max_catch_up must be positive, got %d", c.MaxCatchUp)
	case c.Workers <= 0 || c.QueueSize <= 0:
		return invalid("workers and queue_size must be positive")
	}
	for beam, d := range c.Delays {
		if d < 0 {
			return invalid("delay of beam %d cannot be negative, got %d", beam, d)
		}
	}
	return c.Retry.Validate()
}

func (c Config) delay(beam int) int64 {
	if beam < len(c.Delays) {
		return int64(c.Delays[beam])
	}
	return int64(c.Delay)
}

// Source is the buffer a Streamer reads from. *buffer.BeamletBuffer satisfies it.
type Source interface {
	Config() buffer.Config
	NewestWritten() (int64, bool)
	BeginRead(begins []int64, count int) (*buffer.ReadTransaction, error)
}

// Deps are the runtime dependencies of a Streamer.
type Deps struct {
	Config          Config
	Source          Source
	Publisher       Publisher
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
	Clock           clock.Clock             // optional, wall clock by default
}

// window is one read job: the begin of every beam's window.
type window struct {
	begins []int64
}

// Streamer advances a read window per beam behind the writer and publishes every subband
// of every complete window, with its gaps, through a Publisher.
type Streamer struct {
	cfg       Config
	geometry  buffer.Config
	source    Source
	publisher Publisher
	logger    *slog.Logger
	clk       clock.Clock
	pool      *worker.Pool[window]
	metrics   *streamerMetrics

	mu      sync.Mutex
	next    []int64
	started bool

	windows        atomic.Int64
	windowsDropped atomic.Int64
	resyncs        atomic.Int64
	published      atomic.Int64
	publishErrors  atomic.Int64
	flaggedSamples atomic.Int64
	truncated      atomic.Int64

	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	done        chan struct{}
}

// NewStreamer creates a Streamer. It does nothing until Start.
func NewStreamer(deps Deps) (*Streamer, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "beam-streamer", "NewStreamer", "source and publisher are required")
	}

	geometry := deps.Source.Config()
	if len(deps.Config.Delays) > geometry.BeamCount {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d delays for %d beams", errors.ErrInvalidConfig, len(deps.Config.Delays), geometry.BeamCount),
			"beam-streamer", "NewStreamer", "delay check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "beam-streamer", "subject", deps.Config.Subject)

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	metrics, err := newStreamerMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "beam-streamer", "NewStreamer", "metrics registration")
	}

	s := &Streamer{
		cfg:       deps.Config,
		geometry:  geometry,
		source:    deps.Source,
		publisher: deps.Publisher,
		logger:    logger,
		clk:       clk,
		metrics:   metrics,
		next:      make([]int64, geometry.BeamCount),
	}

	poolOpts := []worker.Option[window]{
		worker.WithLogger[window](logger),
		worker.WithErrorHandler(func(w window, err error) {
			s.logger.Warn("Window not fully published", "begins", w.begins, "error", err)
		}),
	}
	if deps.MetricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[window](deps.MetricsRegistry, "output"))
	}
	s.pool = worker.NewPool(deps.Config.Workers, deps.Config.QueueSize, s.process, poolOpts...)

	return s, nil
}

// Start launches the workers and the polling loop.
func (s *Streamer) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "beam-streamer", "Start", "lifecycle check")
	}
	if err := s.pool.Start(ctx); err != nil {
		return errors.WrapInvalid(err, "beam-streamer", "Start", "start workers")
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	shutdown, done := s.shutdown, s.done
	ticker := s.clk.Ticker(s.cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-shutdown:
				return
			case <-ticker.C:
				s.poll()
			}
		}
	}()

	s.logger.Info("Beam streamer started",
		"beams", s.geometry.BeamCount, "count", s.cfg.Count, "interval", s.cfg.Interval)
	return nil
}

// Stop ends polling and waits up to timeout for queued windows to be published.
func (s *Streamer) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	close(s.shutdown)
	<-s.done

	err := s.pool.Stop(timeout)
	s.logger.Info("Beam streamer stopped", "stats", s.Stats())
	if err != nil {
		return errors.WrapTransient(err, "beam-streamer", "Stop", "drain workers")
	}
	return nil
}

// poll schedules every window that has become complete since the last call.
func (s *Streamer) poll() {
	newest, ok := s.source.NewestWritten()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := int64(s.cfg.Count)
	if !s.started {
		s.resyncLocked(newest)
		s.started = true
	} else if s.behindLocked(newest) {
		s.resyncs.Add(1)
		if s.metrics != nil {
			s.metrics.resyncs.Inc()
		}
		s.logger.Warn("Streamer fell out of the history window, skipping ahead", "newest", newest, "next", s.next)
		s.resyncLocked(newest)
	}

	for i := 0; i < s.cfg.MaxCatchUp && s.readyLocked(newest); i++ {
		w := window{begins: slices.Clone(s.next)}
		if err := s.pool.Submit(w); err != nil {
			s.windowsDropped.Add(1)
			if s.metrics != nil {
				s.metrics.windowsDropped.Inc()
			}
			s.logger.Debug("Window dropped", "begins", w.begins, "error", err)
		} else {
			s.windows.Add(1)
			if s.metrics != nil {
				s.metrics.windows.Inc()
			}
		}
		for beam := range s.next {
			s.next[beam] += count
		}
	}

	if s.metrics != nil {
		for beam, begin := range s.next {
			s.metrics.lag.WithLabelValues(strconv.Itoa(beam)).Set(float64(newest - begin - count))
		}
	}
}

// resyncLocked places every beam's next window as late as its delay allows, aligned so its
// slices can be handed out without a copy.
func (s *Streamer) resyncLocked(newest int64) {
	count := int64(s.cfg.Count)
	for beam := range s.next {
		s.next[beam] = alignDown(newest - s.cfg.delay(beam) - count)
	}
}

// behindLocked reports whether some beam's next window already starts outside the history.
func (s *Streamer) behindLocked(newest int64) bool {
	oldest := newest - int64(s.geometry.History())
	for _, begin := range s.next {
		if begin < oldest {
			return true
		}
	}
	return false
}

func (s *Streamer) readyLocked(newest int64) bool {
	count := int64(s.cfg.Count)
	for beam, begin := range s.next {
		if begin+count+s.cfg.delay(beam) > newest {
			return false
		}
	}
	return true
}

func alignDown(t int64) int64 {
	const a = int64(buffer.Alignment)
	return t - ((t%a)+a)%a
}

// process copies one window out of the buffer and publishes it. The lease is released
// before any message goes out so slow consumers never hold back the writer.
func (s *Streamer) process(ctx context.Context, w window) error {
	msgs, err := s.collect(w)
	if err != nil {
		return err
	}

	var errs []error
	for _, msg := range msgs {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.publishErrors.Add(1)
			if s.metrics != nil {
				s.metrics.publishErrors.Inc()
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		s.published.Add(1)
		if s.metrics != nil {
			s.metrics.published.Inc()
		}
	}
	return stderrors.Join(errs...)
}

func (s *Streamer) collect(w window) ([]Message, error) {
	tx, err := s.source.BeginRead(w.begins, s.cfg.Count)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	beams := len(w.begins)
	subbands := s.geometry.SubbandCount
	msgs := make([]Message, 0, beams*subbands)

	for beam := 0; beam < beams; beam++ {
		for subband := 0; subband < subbands; subband++ {
			slice, err := tx.CopySlice(beam, subband, nil)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, Message{
				Transaction: tx.ID(),
				Beam:        beam,
				Subband:     subband,
				Begin:       w.begins[beam],
				Count:       s.cfg.Count,
				Offset:      slice.Offset,
				Shift:       slice.Shift,
				Data:        slice.Data,
			})
		}
	}

	// Flags are read after every copy so overwrites during the copy are reported.
	truncated := tx.Truncated()
	for beam := 0; beam < beams; beam++ {
		gaps, err := tx.Flags(beam)
		if err != nil {
			return nil, err
		}
		flagged := 0
		for _, g := range gaps {
			flagged += g.Length
		}
		for i := beam * subbands; i < (beam+1)*subbands; i++ {
			msgs[i].Gaps = gaps
			msgs[i].Truncated = truncated
		}
		s.flaggedSamples.Add(int64(flagged * subbands))
		if s.metrics != nil {
			s.metrics.flaggedSamples.Add(float64(flagged * subbands))
		}
	}
	if truncated {
		s.truncated.Add(1)
		if s.metrics != nil {
			s.metrics.truncated.Inc()
		}
	}
	return msgs, nil
}

// Cursors returns the begin of every beam's next window.
func (s *Streamer) Cursors() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.next)
}

// StreamerStats is a snapshot of streamer counters.
type StreamerStats struct {
	Windows        int64            `json:"windows"`
	WindowsDropped int64            `json:"windows_dropped"`
	Resyncs        int64            `json:"resyncs"`
	Published      int64            `json:"published"`
	PublishErrors  int64            `json:"publish_errors"`
	FlaggedSamples int64            `json:"flagged_samples"`
	Truncated      int64            `json:"truncated"`
	Pool           worker.PoolStats `json:"pool"`
}

// Stats returns current streamer statistics.
func (s *Streamer) Stats() StreamerStats {
	return StreamerStats{
		Windows:        s.windows.Load(),
		WindowsDropped: s.windowsDropped.Load(),
		Resyncs:        s.resyncs.Load(),
		Published:      s.published.Load(),
		PublishErrors:  s.publishErrors.Load(),
		FlaggedSamples: s.flaggedSamples.Load(),
		Truncated:      s.truncated.Load(),
		Pool:           s.pool.Stats(),
	}
}
