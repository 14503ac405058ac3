package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return stderrors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"wrapped", NonRetryable(stderrors.New("bad input"))},
		{"classified invalid", errors.WrapInvalid(errors.ErrInvalidData, "c", "m", "a")},
		{"classified fatal", errors.WrapFatal(errors.ErrPayloadSize, "c", "m", "a")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fastConfig(5), func() error {
				attempts++
				return tc.err
			})
			assert.Equal(t, tc.err, err)
			assert.Equal(t, 1, attempts)
		})
	}

	attempts := 0
	_ = Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return errors.WrapTransient(errors.ErrConnectionLost, "c", "m", "a")
	})
	assert.Equal(t, 3, attempts, "transient classified errors are retried")
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastConfig(5)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- DoWithClock(ctx, mock, cfg, func() error {
			attempts++
			return stderrors.New("error")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry cancelled")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestRetry_BackoffSchedule(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, cfg.Backoff(4))
	assert.Equal(t, time.Second, cfg.Backoff(5))
	assert.Equal(t, time.Second, cfg.Backoff(50))
}

func TestRetry_MockClockSteps(t *testing.T) {
	mock := clock.NewMock()
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}

	calls := make(chan struct{}, 3)
	done := make(chan error, 1)
	go func() {
		done <- DoWithClock(context.Background(), mock, cfg, func() error {
			calls <- struct{}{}
			return stderrors.New("again")
		})
	}()

	<-calls
	require.Eventually(t, func() bool { mock.Add(time.Second); return len(calls) == 1 }, time.Second, time.Millisecond)
	<-calls
	require.Eventually(t, func() bool { mock.Add(2 * time.Second); return len(calls) == 1 }, time.Second, time.Millisecond)
	<-calls

	require.Error(t, <-done)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Quick().Validate())

	invalid := []Config{
		{InitialDelay: -1},
		{MaxDelay: -1},
		{Multiplier: -1},
		{Jitter: 1.5},
		{InitialDelay: time.Second, MaxDelay: time.Millisecond},
	}
	for _, cfg := range invalid {
		err := cfg.Validate()
		require.Error(t, err, "%+v", cfg)
		assert.True(t, errors.IsInvalid(err))
		assert.True(t, IsNonRetryable(err))
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, stderrors.New("not yet")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}
