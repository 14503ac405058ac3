package websocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/metric"
	"github.com/jjdmol/LOFAR-sub071/output/beam"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
	"github.com/jjdmol/LOFAR-sub071/pkg/tlsutil"
)

// maxClientMessage bounds what a client may send; clients only answer pings.
const maxClientMessage = 512

// Window is the JSON document sent to clients for every published subband window.
type Window struct {
	Type        string       `json:"type"` // always "window"
	Seq         uint64       `json:"seq"`
	Timestamp   int64        `json:"timestamp"` // Unix milliseconds
	Transaction string       `json:"tx"`
	Beam        int          `json:"beam"`
	Subband     int          `json:"subband"`
	Begin       int64        `json:"begin"`
	Count       int          `json:"count"`
	Offset      int          `json:"offset"`
	Shift       int          `json:"shift"`
	Gaps        []buffer.Gap `json:"gaps"`
	Truncated   bool         `json:"truncated"`
	Data        []byte       `json:"data,omitempty"`
}

// Deps are the runtime dependencies of an Output.
type Deps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger
}

// Output serves a websocket endpoint and pushes every published window to the
// connected clients. It implements beam.Publisher.
type Output struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *feedMetrics
	upgrader websocket.Upgrader
	tls      *tls.Config // nil serves plain ws://

	lifecycleMu sync.Mutex
	running     bool
	server      *http.Server
	listener    net.Listener
	wg          sync.WaitGroup

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
	closing   bool // set by Stop; no client is registered after it

	seq         atomic.Uint64
	connections atomic.Int64
	sent        atomic.Int64
	dropped     atomic.Int64
	bytesSent   atomic.Int64
}

var _ beam.Publisher = (*Output)(nil)

// NewOutput validates deps and builds an Output. Call Start to begin serving.
func NewOutput(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tlsConfig, err := tlsutil.LoadServerConfig(deps.Config.TLS)
	if err != nil {
		return nil, err
	}

	metrics, err := newFeedMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "websocket-output", "NewOutput", "metrics registration")
	}

	return &Output{
		cfg:     deps.Config,
		logger:  logger.With("component", "websocket-output"),
		metrics: metrics,
		tls:     tlsConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// Handler returns the HTTP handler upgrading requests on the configured path.
func (o *Output) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(o.cfg.Path, o.handleWebSocket)
	return mux
}

// Start listens on the configured port and serves until Stop.
func (o *Output) Start(_ context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket-output", "Start", "check running state")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", o.cfg.Port))
	if err != nil {
		return errors.WrapTransient(err, "websocket-output", "Start", "listen")
	}
	scheme := "ws"
	if o.tls != nil {
		ln = tls.NewListener(ln, o.tls)
		scheme = "wss"
	}

	o.clientsMu.Lock()
	o.closing = false
	o.clientsMu.Unlock()

	o.listener = ln
	o.server = &http.Server{
		Handler:           o.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	o.running = true

	o.wg.Add(1)
	go func(srv *http.Server) {
		defer o.wg.Done()
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			o.logger.Error("Websocket server failed", "error", err)
		}
	}(o.server)

	o.logger.Info("Websocket feed listening",
		"address", ln.Addr().String(), "path", o.cfg.Path, "scheme", scheme)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (o *Output) Addr() net.Addr {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	if o.listener == nil {
		return nil
	}
	return o.listener.Addr()
}

// Stop closes the listener and every client, then waits up to timeout for the
// connection goroutines to exit.
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := o.server.Shutdown(ctx)

	o.clientsMu.Lock()
	o.closing = true
	for c := range o.clients {
		c.close()
	}
	o.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"websocket-output", "Stop", "graceful shutdown")
	}

	o.listener = nil
	o.logger.Info("Websocket feed stopped", "stats", o.Stats())
	if shutdownErr != nil {
		return errors.WrapTransient(shutdownErr, "websocket-output", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Publish sends msg to every client whose filter matches. A client whose queue is full
// misses the window. The feed is best effort, so Publish never fails.
func (o *Output) Publish(_ context.Context, msg beam.Message) error {
	targets := o.matching(msg.Beam, msg.Subband)
	if len(targets) == 0 {
		return nil
	}

	w := Window{
		Type:        "window",
		Seq:         o.seq.Add(1),
		Timestamp:   time.Now().UnixMilli(),
		Transaction: msg.Transaction.String(),
		Beam:        msg.Beam,
		Subband:     msg.Subband,
		Begin:       msg.Begin,
		Count:       msg.Count,
		Offset:      msg.Offset,
		Shift:       msg.Shift,
		Gaps:        msg.Gaps,
		Truncated:   msg.Truncated,
	}
	if w.Gaps == nil {
		w.Gaps = []buffer.Gap{}
	}
	if o.cfg.IncludeData {
		w.Data = msg.Data
	}

	data, err := json.Marshal(w)
	if err != nil {
		return errors.WrapInvalid(err, "websocket-output", "Publish", "encode window")
	}

	for _, c := range targets {
		if !c.enqueue(data) {
			o.dropped.Add(1)
			if o.metrics != nil {
				o.metrics.dropped.Inc()
			}
		}
	}
	return nil
}

func (o *Output) matching(beamIdx, subband int) []*client {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()

	var out []*client
	for c := range o.clients {
		if c.wants(beamIdx, subband) {
			out = append(out, c)
		}
	}
	return out
}

func (o *Output) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	beams, err := parseFilter(r, "beam")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	subbands, err := parseFilter(r, "subband")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if o.metrics != nil {
			o.metrics.errors.WithLabelValues("upgrade").Inc()
		}
		return
	}

	c := newClient(conn, o.cfg.ClientQueue, beams, subbands)

	o.clientsMu.Lock()
	if o.closing {
		o.clientsMu.Unlock()
		c.close()
		return
	}
	o.clients[c] = struct{}{}
	count := len(o.clients)
	o.wg.Add(2)
	o.clientsMu.Unlock()

	o.connections.Add(1)
	if o.metrics != nil {
		o.metrics.connections.Inc()
		o.metrics.clients.Set(float64(count))
	}
	o.logger.Debug("Client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	go o.writePump(c)
	go o.readPump(c)
}

// readPump only exists to process pongs and notice when the client goes away.
func (o *Output) readPump(c *client) {
	defer o.wg.Done()
	defer o.removeClient(c)

	deadline := 2 * o.cfg.PingInterval
	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (o *Output) writePump(c *client) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				o.writeFailed(c, "write", err)
				return
			}
			o.sent.Add(1)
			o.bytesSent.Add(int64(len(data)))
			if o.metrics != nil {
				o.metrics.sent.Inc()
				o.metrics.bytesSent.Add(float64(len(data)))
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(o.cfg.WriteTimeout)); err != nil {
				o.writeFailed(c, "ping", err)
				return
			}
		}
	}
}

func (o *Output) writeFailed(c *client, kind string, err error) {
	if o.metrics != nil {
		o.metrics.errors.WithLabelValues(kind).Inc()
	}
	o.logger.Debug("Client write failed", "kind", kind, "error", err)
	o.removeClient(c)
}

func (o *Output) removeClient(c *client) {
	c.close()

	o.clientsMu.Lock()
	_, present := o.clients[c]
	delete(o.clients, c)
	count := len(o.clients)
	o.clientsMu.Unlock()

	if present && o.metrics != nil {
		o.metrics.clients.Set(float64(count))
	}
}

// Stats is a snapshot of feed counters.
type Stats struct {
	Clients     int   `json:"clients"`
	Connections int64 `json:"connections"`
	Sent        int64 `json:"sent"`
	Dropped     int64 `json:"dropped"`
	BytesSent   int64 `json:"bytes_sent"`
}

// Stats returns current feed statistics.
func (o *Output) Stats() Stats {
	o.clientsMu.RLock()
	clients := len(o.clients)
	o.clientsMu.RUnlock()

	return Stats{
		Clients:     clients,
		Connections: o.connections.Load(),
		Sent:        o.sent.Load(),
		Dropped:     o.dropped.Load(),
		BytesSent:   o.bytesSent.Load(),
	}
}

// client is one websocket connection with its own bounded send queue.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	beams    map[int]bool // nil accepts every beam
	subbands map[int]bool // nil accepts every subband
}

func newClient(conn *websocket.Conn, queue int, beams, subbands map[int]bool) *client {
	return &client{
		conn:     conn,
		send:     make(chan []byte, queue),
		done:     make(chan struct{}),
		beams:    beams,
		subbands: subbands,
	}
}

func (c *client) wants(beamIdx, subband int) bool {
	return (c.beams == nil || c.beams[beamIdx]) && (c.subbands == nil || c.subbands[subband])
}

// enqueue never blocks. It reports false when the queue is full or the client closed.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// parseFilter reads repeated ?key=N query values. No values means no filter.
func parseFilter(r *http.Request, key string) (map[int]bool, error) {
	values := r.URL.Query()[key]
	if len(values) == 0 {
		return nil, nil
	}
	set := make(map[int]bool, len(values))
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s %q", key, v)
		}
		set[n] = true
	}
	return set, nil
}
