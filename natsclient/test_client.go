package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const natsImage = "nats:2.11.7-alpine"

// TestClient is a connected Client backed by a throwaway NATS container.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
}

type testConfig struct {
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures NewTestClient.
type TestOption func(*testConfig)

// WithTestTimeout sets the connection timeout for test client
func WithTestTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = timeout
	}
}

// NewTestClient starts a NATS container and returns a client connected to it. The
// container and client are torn down when the test ends.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := &testConfig{
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tc, err := startTestClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	t.Cleanup(tc.Terminate)
	return tc
}

func startTestClient(ctx context.Context, cfg *testConfig) (*TestClient, error) {
	req := testcontainers.ContainerRequest{
		Image:        natsImage,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	fail := func(step string, err error) (*TestClient, error) {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return fail("container host", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return fail("mapped port", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	client, err := NewClient(url, WithTimeout(cfg.timeout), WithMaxReconnects(0))
	if err != nil {
		return fail("create client", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fail("connect", err)
	}

	return &TestClient{container: container, Client: client, URL: url}, nil
}

// Terminate closes the client and removes the container.
func (tc *TestClient) Terminate() {
	_ = tc.Client.Close(context.Background())
	_ = tc.container.Terminate(context.Background())
}
