package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jjdmol/LOFAR-sub071/metric"
)

// Pool processes jobs of type T with a fixed number of workers.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)
	logger    *slog.Logger

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	busy      atomic.Int64
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	busy           prometheus.Gauge
	submitted      prometheus.Counter
	dropped        prometheus.Counter
	results        *prometheus.CounterVec
	processingTime prometheus.Histogram
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports pool metrics labelled with name.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		if registry == nil || name == "" {
			return
		}
		p.metrics = newPoolMetrics(registry, name, p.logger)
	}
}

// WithErrorHandler is called from the worker goroutine for every job that fails.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// WithLogger sets the logger. Failed jobs are logged at debug level.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool of workers draining a queue of queueSize jobs.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pool)
		}
	}
	return pool
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string, logger *slog.Logger) *poolMetrics {
	labels := prometheus.Labels{"pool": name}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beamlet", Subsystem: "worker", Name: "queue_depth",
			ConstLabels: labels, Help: "Jobs waiting in the queue",
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beamlet", Subsystem: "worker", Name: "busy",
			ConstLabels: labels, Help: "Workers currently processing a job",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beamlet", Subsystem: "worker", Name: "submitted_total",
			ConstLabels: labels, Help: "Total jobs accepted",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beamlet", Subsystem: "worker", Name: "dropped_total",
			ConstLabels: labels, Help: "Total jobs dropped due to a full queue",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beamlet", Subsystem: "worker", Name: "processed_total",
			ConstLabels: labels, Help: "Total jobs processed by outcome",
		}, []string{"status"}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beamlet", Subsystem: "worker", Name: "processing_duration_seconds",
			ConstLabels: labels, Help: "Time spent processing jobs",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1.0},
		}),
	}

	service := "worker_" + name
	errs := []error{
		registry.RegisterGauge(service, "queue_depth", m.queueDepth),
		registry.RegisterGauge(service, "busy", m.busy),
		registry.RegisterCounter(service, "submitted", m.submitted),
		registry.RegisterCounter(service, "dropped", m.dropped),
		registry.RegisterCounterVec(service, "processed", m.results),
		registry.RegisterHistogram(service, "processing_duration", m.processingTime),
	}
	for _, err := range errs {
		if err != nil {
			// Counting continues in Stats; only the export is lost
			logger.Warn("Worker pool metrics registration failed", "pool", name, "error", err)
		}
	}
	return m
}

// Submit queues work without blocking. A full queue drops the job and returns ErrQueueFull.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx ends or the pool is stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued jobs to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       p.busy.Load(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int64 `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.busy.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}

	start := time.Now()
	err := p.processor(ctx, work)
	duration := time.Since(start)

	p.busy.Add(-1)
	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
		p.logger.Debug("Worker job failed", "error", err)
		if p.onError != nil {
			p.onError(work, err)
		}
	}

	if p.metrics != nil {
		p.metrics.busy.Dec()
		p.metrics.results.WithLabelValues(status).Inc()
		p.metrics.processingTime.Observe(duration.Seconds())
	}
}
