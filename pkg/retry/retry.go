package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err must not be retried: either wrapped with NonRetryable,
// or classified invalid or fatal.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	if errors.As(err, &nre) {
		return true
	}
	var ce *errors.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class != errors.ErrorTransient
	}
	return false
}

// Config describes an exponential backoff schedule.
type Config struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"` // 0 or 1 runs once
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`

	// Jitter adds up to this fraction of each delay at random. Zero disables it.
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// DefaultConfig returns the schedule used for publishing to the message bus.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// Quick returns a schedule for startup resources such as sockets that may linger in
// TIME_WAIT after a restart.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		Jitter:       0.25,
	}
}

// Validate rejects schedules that cannot be followed.
func (c Config) Validate() error {
	switch {
	case c.InitialDelay < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: initial_delay cannot be negative", errors.ErrInvalidConfig), "retry", "Validate", "delay check")
	case c.MaxDelay < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: max_delay cannot be negative", errors.ErrInvalidConfig), "retry", "Validate", "delay check")
	case c.Multiplier < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: multiplier cannot be negative", errors.ErrInvalidConfig), "retry", "Validate", "multiplier check")
	case c.Jitter < 0 || c.Jitter > 1:
		return errors.WrapInvalid(fmt.Errorf("%w: jitter must lie within [0, 1]", errors.ErrInvalidConfig), "retry", "Validate", "jitter check")
	case c.MaxDelay > 0 && c.InitialDelay > c.MaxDelay:
		return errors.WrapInvalid(fmt.Errorf("%w: max_delay must be >= initial_delay", errors.ErrInvalidConfig), "retry", "Validate", "delay check")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = max(5*time.Second, c.InitialDelay)
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)
	return c
}

// Backoff returns the delay before attempt n+1, without jitter. n starts at 1.
func (c Config) Backoff(n int) time.Duration {
	c = c.withDefaults()
	delay := float64(c.InitialDelay)
	for i := 1; i < n; i++ {
		delay *= c.Multiplier
		if delay >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return time.Duration(delay)
}

// Do executes fn with exponential backoff retry on the wall clock.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return DoWithClock(ctx, clock.New(), cfg, fn)
}

// DoWithClock is Do with the backoff timers taken from clk.
func DoWithClock(ctx context.Context, clk clock.Clock, cfg Config, fn func() error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Backoff(attempt)
		if cfg.Jitter > 0 {
			delay += time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
		}

		timer := clk.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
