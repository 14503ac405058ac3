package natsclient

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// Nothing listens on port 1, so dialing fails fast.
const unreachableURL = "nats://127.0.0.1:1"

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClient_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  ClientOption
	}{
		{"zero threshold", WithCircuitBreakerThreshold(0)},
		{"short max backoff", WithMaxBackoff(time.Millisecond)},
		{"nil tls config", WithTLS(nil)},
		{"zero timeout", WithTimeout(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(unreachableURL, tt.opt)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient(unreachableURL, WithMaxBackoff(8*time.Second))
	require.NoError(t, err)

	for round, want := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second} {
		for i := 0; i < 5; i++ {
			client.recordFailure()
		}
		assert.Equal(t, want, client.Backoff(), "round %d", round)
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	client, err := NewClient(unreachableURL, WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	client.testCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestConnect_Failure(t *testing.T) {
	client, err := NewClient(unreachableURL, WithTimeout(200*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(1), client.Failures())
	assert.False(t, client.GetStatus().LastFailureTime.IsZero())
}

func TestConnect_CancelledContext(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), client.Failures())
}

func TestOperationsWhenDisconnected(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "beamlet.0.0", []byte("x")), ErrNotConnected)
	assert.ErrorIs(t, client.PublishMsg(ctx, nats.NewMsg("beamlet.0.0")), ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(ctx, "beamlet.>", func(context.Context, *nats.Msg) {}), ErrNotConnected)
	assert.ErrorIs(t, client.Flush(ctx), ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = client.Publish(cancelled, "beamlet.0.0", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient(unreachableURL, WithCredentials("user", "secret"), WithToken("tok"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))

	assert.Empty(t, client.username)
	assert.Empty(t, client.password)
	assert.Empty(t, client.token)

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, errors.IsFatal(err))
}

func TestConnectionOptions(t *testing.T) {
	base, err := NewClient(unreachableURL)
	require.NoError(t, err)

	full, err := NewClient(unreachableURL,
		WithCredentials("user", "pass"),
		WithToken("token"),
		WithTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		WithName("beamletd"),
	)
	require.NoError(t, err)

	assert.Len(t, full.buildConnectionOptions(), len(base.buildConnectionOptions())+4)
}

func TestHealthCallbacks(t *testing.T) {
	var mu sync.Mutex
	var seen []bool
	reconnected := make(chan struct{}, 1)

	client, err := NewClient(unreachableURL,
		WithHealthChangeCallback(func(healthy bool) {
			mu.Lock()
			seen = append(seen, healthy)
			mu.Unlock()
		}),
		WithReconnectCallback(func() { reconnected <- struct{}{} }),
	)
	require.NoError(t, err)

	client.handleDisconnect(nil, nats.ErrConnectionClosed)
	assert.Equal(t, StatusReconnecting, client.Status())

	client.handleReconnect(nil)
	assert.Equal(t, StatusConnected, client.Status())

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient(unreachableURL)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client, err := NewClient(unreachableURL)
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestConcurrentFailures(t *testing.T) {
	client, err := NewClient(unreachableURL, WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.recordFailure()
			_ = client.Status()
			_ = client.GetStatus()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(30), client.Failures())
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.LessOrEqual(t, client.Backoff(), time.Minute)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}
