package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     layerList
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
}

// layerList collects repeated -config flags. Later files override earlier ones.
type layerList []string

func (l *layerList) String() string {
	return strings.Join(*l, ",")
}

func (l *layerList) Set(value string) error {
	for _, path := range strings.Split(value, ",") {
		if path = strings.TrimSpace(path); path != "" {
			*l = append(*l, path)
		}
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	if env := os.Getenv("BEAMLET_CONFIG"); env != "" {
		_ = cfg.ConfigPaths.Set(env)
	}

	// Define flags with environment variable fallback
	fs.Var(&cfg.ConfigPaths, "config",
		"Configuration file, repeatable; later files override earlier ones (env: BEAMLET_CONFIG)")
	fs.Var(&cfg.ConfigPaths, "c", "Shorthand for -config")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error; overrides log.level")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text; overrides log.format")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("BEAMLET_DEBUG", false),
		"Enable debug logging (env: BEAMLET_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("BEAMLET_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: BEAMLET_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the merged configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(fs.Output(), `%s - station beamlet input buffer

Receives framed beamlet packets over UDP, keeps the most recent samples in a circular
buffer and publishes fixed windows per beam and subband on NATS.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(fs.Output(), `
Examples:
  # Base file plus site overrides
  %s -config configs/beamletd.yaml -config /etc/beamletd/site.yaml

  # Debug logging in text form
  %s -config configs/beamletd.yaml -log-level=debug -log-format=text

  # Environment overrides
  export BEAMLET_NATS_URLS=nats://broker:4222
  export BEAMLET_BUFFER_SYNCHRONOUS=true
  %s

  # Validate configuration only
  %s -config configs/beamletd.yaml -validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
