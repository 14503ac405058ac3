package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client closed")
)

// Status is a point-in-time view of the connection.
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      uint64
	RTT             time.Duration
}

// Client owns one NATS connection for publishing beam data. Repeated connection failures
// open a circuit breaker that refuses further attempts until its backoff elapses.
type Client struct {
	url      string
	status   atomic.Value // ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	subs []*nats.Subscription

	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// cleared on close
	username string
	password string
	token    string

	tlsConfig *tls.Config

	clientName string

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a client for url. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", "natsclient", "url", url)
	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the number of failures since the last successful connect.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the delay the circuit breaker waits before allowing another attempt.
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	c.lastFailure.Store(time.Now())
	round := c.circuitFailures.Add(1)

	c.logger.Debug("Recorded connection failure", "failures", total, "circuit_failures", round)

	if round < c.circuitThreshold {
		return
	}

	current := c.Backoff()
	next := min(current*2, c.maxBackoff)

	status := c.Status()
	if status == StatusCircuitOpen {
		c.backoff.Store(next)
		c.circuitFailures.Store(0)
		c.logger.Warn("Circuit breaker still open", "backoff", next)
		return
	}

	// Only one goroutine wins the transition and schedules the probe.
	if c.status.CompareAndSwap(status, StatusCircuitOpen) {
		c.backoff.Store(next)
		c.circuitFailures.Store(0)
		c.logger.Warn("Circuit breaker opened", "failures", round, "backoff", current)
		time.AfterFunc(current, c.testCircuit)
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the breaker: the next Connect is allowed through.
func (c *Client) testCircuit() {
	if c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		c.logger.Debug("Circuit breaker half-open")
	}
}

// WaitForConnection blocks until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// GetStatus returns current status information
func (c *Client) GetStatus() *Status {
	status := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil && conn.IsConnected() {
		status.Reconnects = conn.Stats().Reconnects
		if rtt, err := conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}

	return status
}

// Connect dials the server. It fails fast with ErrCircuitOpen while the breaker is open.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(ErrClosed, "Client", "Connect", "connect")
	}
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS")

	opts := c.buildConnectionOptions()

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// Close whatever the dial eventually produces.
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		c.recordFailure()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn = res.conn
	onHealthChange := c.onHealthChange
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "server", res.conn.ConnectedUrlRedacted())

	if onHealthChange != nil {
		onHealthChange(true)
	}
	return nil
}

// Close unsubscribes, drains and closes the connection. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := c.conn
		drained := make(chan error, 1)
		go func() {
			drained <- conn.Drain()
		}()

		timer := time.NewTimer(drainTimeout)
		select {
		case err := <-drained:
			if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-timer.C:
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain connection"))
		case <-ctx.Done():
			errs = append(errs, errors.WrapTransient(ctx.Err(), "Client", "Close", "drain connection"))
		}
		timer.Stop()

		conn.Close()
		c.conn = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)

	if err := stderrors.Join(errs...); err != nil {
		c.logger.Error("NATS close finished with errors", "error", err)
		return err
	}
	return nil
}

// RTT returns the round-trip time to the NATS server
func (c *Client) RTT() (time.Duration, error) {
	conn, err := c.connection()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Subscribe delivers every message on subject to handler. Each call gets a context derived
// from ctx and bounded by the client timeout.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		handler(msgCtx, msg)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// Publish publishes data on subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	return c.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsg publishes msg including its headers.
func (c *Client) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Client", "PublishMsg", "publish")
	}
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if err := conn.PublishMsg(msg); err != nil {
		if stderrors.Is(err, nats.ErrMaxPayload) || stderrors.Is(err, nats.ErrBadSubject) {
			return errors.WrapInvalid(err, "Client", "PublishMsg", "publish "+msg.Subject)
		}
		return errors.WrapTransient(err, "Client", "PublishMsg", "publish "+msg.Subject)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush(ctx context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.WrapTransient(err, "Client", "Flush", "flush")
	}
	return nil
}

// OnHealthChange sets a callback for health status changes
func (c *Client) OnHealthChange(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHealthChange = fn
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)

	c.mu.RLock()
	onDisconnect := c.onDisconnect
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Reconnected to NATS", "server", conn.ConnectedUrlRedacted())

	c.mu.RLock()
	onReconnect := c.onReconnect
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}
