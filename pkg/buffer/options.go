package buffer

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/jjdmol/LOFAR-sub071/metric"
)

// Option configures buffer behavior using the functional options pattern.
type Option func(*bufferOptions)

// bufferOptions holds internal configuration for buffer instances.
// Stats are ALWAYS collected - they are not optional.
// Metrics are optional and exposed via WithMetrics().
type bufferOptions struct {
	// metricsReg is optional - if provided, buffer stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	logger *slog.Logger

	// clock drives the writer's stall deadline
	clock clock.Clock
}

// WithMetrics enables Prometheus metrics export for buffer statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *bufferOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(opts *bufferOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for the synchronous writer's MaxNetworkDelay.
// Tests pass a clock.Mock to step through stalls deterministically.
func WithClock(c clock.Clock) Option {
	return func(opts *bufferOptions) {
		if c != nil {
			opts.clock = c
		}
	}
}

func applyOptions(options ...Option) *bufferOptions {
	opts := &bufferOptions{
		logger: slog.Default(),
		clock:  clock.New(),
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
