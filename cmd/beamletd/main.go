// Package main implements beamletd, the station beamlet input buffer daemon.
// It receives beamlet packets over UDP, keeps a sliding window of samples per subband
// and publishes fixed-length windows per beam on NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jjdmol/LOFAR-sub071/config"
	"github.com/jjdmol/LOFAR-sub071/health"
	"github.com/jjdmol/LOFAR-sub071/input/udp"
	"github.com/jjdmol/LOFAR-sub071/metric"
	"github.com/jjdmol/LOFAR-sub071/natsclient"
	"github.com/jjdmol/LOFAR-sub071/output/beam"
	"github.com/jjdmol/LOFAR-sub071/output/websocket"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
	"github.com/jjdmol/LOFAR-sub071/pkg/tlsutil"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "beamletd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.PrintConfig {
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "layers", cliCfg.ConfigPaths.String())
		return nil
	}

	logger.Info("Starting beamletd",
		"version", Version,
		"build_time", BuildTime,
		"layers", cliCfg.ConfigPaths.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	if err := d.start(ctx); err != nil {
		_ = d.shutdown(cliCfg.ShutdownTimeout)
		_ = d.wait()
		return err
	}

	logger.Info("beamletd started", "udp", d.input.Addr().String(), "subject", cfg.Output.Subject)

	<-d.done()
	if ctx.Err() != nil {
		logger.Info("Received shutdown signal")
	}

	shutdownErr := d.shutdown(cliCfg.ShutdownTimeout)
	if err := d.wait(); err != nil {
		return fmt.Errorf("background task failed: %w", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}
	logger.Info("beamletd shutdown complete")
	return nil
}

// loadConfig merges the config layers and applies the log flags on top.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range cliCfg.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	return cfg, nil
}

// daemon owns every long-running part of the process.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	registry      *metric.MetricsRegistry
	metricsServer *metric.Server
	monitor       *health.Monitor
	buffer        *buffer.BeamletBuffer
	nats          *natsclient.Client
	streamer      *beam.Streamer
	feed          *websocket.Output // nil unless websocket.enabled
	input         *udp.Input

	// group runs the metrics server and health monitor. Its context ends on the first
	// failure or when the parent context does.
	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
	}

	var err error
	d.buffer, err = buffer.NewBeamletBuffer(cfg.Buffer,
		buffer.WithMetrics(d.registry, "buffer"),
		buffer.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create buffer: %w", err)
	}

	opts, err := natsOptions(cfg.NATS, logger)
	if err != nil {
		return nil, fmt.Errorf("NATS TLS: %w", err)
	}
	d.nats, err = natsclient.NewClient(cfg.NATS.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	var publisher beam.Publisher = beam.NewNATSPublisher(d.nats, cfg.Output.Subject, cfg.Output.Retry, logger)
	if cfg.Feed.Enabled {
		d.feed, err = websocket.NewOutput(websocket.Deps{
			Config:          cfg.Feed,
			MetricsRegistry: d.registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create websocket feed: %w", err)
		}
		publisher = beam.FanOut{publisher, d.feed}
	}

	d.streamer, err = beam.NewStreamer(beam.Deps{
		Config:          cfg.Output,
		Source:          d.buffer,
		Publisher:       publisher,
		MetricsRegistry: d.registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create streamer: %w", err)
	}

	d.input, err = udp.NewInput(udp.Deps{
		Config:          cfg.Input,
		Writer:          d.buffer,
		PayloadSize:     cfg.Buffer.PacketBytes(),
		MetricsRegistry: d.registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create udp input: %w", err)
	}

	d.monitor = health.NewMonitor(appName, logger)
	d.monitor.Register("nats", natsCheck(d.nats))
	d.monitor.Register("udp", inputCheck(d.input.Stats, time.Now))
	d.monitor.Register("output", outputCheck(d.streamer.Stats))
	d.monitor.Register("buffer", bufferCheck(func() buffer.StatsSummary { return d.buffer.Stats().Summary() }))

	if cfg.Metrics.Enabled {
		d.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, d.registry)
		d.metricsServer.SetHealthHandler(d.monitor.Handler())
	}
	return d, nil
}

// natsOptions maps the NATS section of the config onto client options.
func natsOptions(cfg config.NATSConfig, logger *slog.Logger) ([]natsclient.ClientOption, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			logger.Info("NATS health changed", "healthy", healthy)
		}),
		natsclient.WithDisconnectCallback(func(err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.Name))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.Timeout))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.DrainTimeout))
	}
	if cfg.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(cfg.PingInterval))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.Enabled() {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, natsclient.WithTLS(tlsConfig))
	}
	return opts, nil
}

// start brings the pipeline up from the publishing end so that no packet is received
// before something can read it.
func (d *daemon) start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)
	d.group, d.groupCtx = errgroup.WithContext(ctx)
	if d.metricsServer != nil {
		d.group.Go(d.metricsServer.Start)
		d.logger.Info("Metrics server listening", "address", d.metricsServer.Address())
	}
	interval := d.cfg.Metrics.HealthInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	d.group.Go(func() error {
		d.monitor.Run(d.groupCtx, interval)
		return nil
	})

	if err := d.connectNATS(ctx); err != nil {
		return err
	}
	if d.feed != nil {
		if err := d.feed.Start(ctx); err != nil {
			return fmt.Errorf("start websocket feed: %w", err)
		}
	}
	if err := d.streamer.Start(ctx); err != nil {
		return fmt.Errorf("start streamer: %w", err)
	}
	if err := d.input.Start(ctx); err != nil {
		return fmt.Errorf("start udp input: %w", err)
	}
	return nil
}

func (d *daemon) connectNATS(ctx context.Context) error {
	timeout := 10 * time.Second
	if d.cfg.NATS.Timeout > 0 {
		timeout = 2 * d.cfg.NATS.Timeout
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.logger.Info("Connecting to NATS", "url", d.cfg.NATS.URL())
	if err := d.nats.Connect(connCtx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	if err := d.nats.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// done is closed when the parent context ends or a background task fails.
func (d *daemon) done() <-chan struct{} {
	return d.groupCtx.Done()
}

// wait returns the first background failure once every background task has exited.
func (d *daemon) wait() error {
	if d.group == nil {
		return nil
	}
	return d.group.Wait()
}

// shutdown stops the pipeline in reverse order: no new packets, drain the publishers,
// then release the buffer and the connections.
func (d *daemon) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := d.input.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop udp input: %w", err))
	}
	if err := d.streamer.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop streamer: %w", err))
	}
	if d.feed != nil {
		if err := d.feed.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop websocket feed: %w", err))
		}
	}
	if err := d.buffer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close buffer: %w", err))
	}
	if err := d.nats.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close NATS: %w", err))
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}

	if d.cancel != nil {
		d.cancel()
	}

	d.logger.Info("Final statistics",
		"buffer", d.buffer.Stats().Summary(),
		"input", d.input.Stats(),
		"output", d.streamer.Stats())
	return errors.Join(errs...)
}
