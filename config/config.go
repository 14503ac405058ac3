package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/input/udp"
	"github.com/jjdmol/LOFAR-sub071/output/beam"
	"github.com/jjdmol/LOFAR-sub071/output/websocket"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
	"github.com/jjdmol/LOFAR-sub071/pkg/tlsutil"
)

// Config is the complete daemon configuration.
type Config struct {
	Buffer  buffer.Config    `json:"buffer" yaml:"buffer"`
	Input   udp.Config       `json:"input" yaml:"input"`
	Output  beam.Config      `json:"output" yaml:"output"`
	Feed    websocket.Config `json:"websocket" yaml:"websocket"`
	NATS    NATSConfig       `json:"nats" yaml:"nats"`
	Metrics MetricsConfig    `json:"metrics" yaml:"metrics"`
	Log     LogConfig        `json:"log" yaml:"log"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string             `json:"urls" yaml:"urls"`
	Name          string               `json:"name,omitempty" yaml:"name,omitempty"`
	MaxReconnects int                  `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration        `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration        `json:"timeout" yaml:"timeout"`
	DrainTimeout  time.Duration        `json:"drain_timeout" yaml:"drain_timeout"`
	Username      string               `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string               `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string               `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// URL returns the server list in the comma-separated form nats.Connect accepts.
func (c NATSConfig) URL() string {
	return strings.Join(c.URLs, ",")
}

// MetricsConfig controls the HTTP endpoint serving Prometheus metrics and /health.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`

	// HealthInterval is how often the health checks run.
	HealthInterval time.Duration `json:"health_interval" yaml:"health_interval"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	return &Config{
		Buffer: buffer.DefaultConfig(),
		Input:  udp.DefaultConfig(),
		Output: beam.DefaultConfig(),
		Feed:   websocket.DefaultConfig(),
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "beamletd",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
			DrainTimeout:  10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Port:           9090,
			Path:           "/metrics",
			HealthInterval: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks every section and the constraints between them.
func (c *Config) Validate() error {
	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer: %w", err)
	}
	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if c.Feed.Enabled {
		if err := c.Feed.Validate(); err != nil {
			return fmt.Errorf("websocket: %w", err)
		}
		if c.Metrics.Enabled && c.Feed.Port != 0 && c.Feed.Port == c.Metrics.Port {
			return errors.WrapInvalid(
				fmt.Errorf("%w: websocket.port and metrics.port are both %d", errors.ErrInvalidConfig, c.Feed.Port),
				"Config", "Validate", "cross-section check")
		}
	}

	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
			"Config", "Validate", "cross-section check")
	}

	for _, token := range strings.Split(c.Output.Subject, ".") {
		if !isValidNATSSubjectPart(token) {
			return invalid("output.subject %q is not a valid NATS subject prefix", c.Output.Subject)
		}
	}
	if len(c.Output.Delays) > c.Buffer.BeamCount {
		return invalid("output.delays has %d entries for %d beams", len(c.Output.Delays), c.Buffer.BeamCount)
	}

	// A window must fit in the history behind its delay, or it is always clipped.
	history := c.Buffer.History()
	for beam := 0; beam < c.Buffer.BeamCount; beam++ {
		delay := c.Output.Delay
		if beam < len(c.Output.Delays) {
			delay = c.Output.Delays[beam]
		}
		if delay+c.Output.Count > history {
			return invalid("beam %d: delay %d plus count %d exceeds the history of %d samples",
				beam, delay, c.Output.Count, history)
		}
	}

	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls is required")
	}
	if err := c.NATS.TLS.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Enabled && c.Metrics.HealthInterval <= 0 {
		return invalid("metrics.health_interval must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q unknown", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid("log.format %q unknown", c.Log.Format)
	}
	return nil
}

// isValidNATSSubjectPart reports whether s can be one token of a NATS subject.
func isValidNATSSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// String renders the configuration with credentials redacted.
func (c *Config) String() string {
	redacted := *c
	redacted.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	for _, secret := range []*string{&redacted.NATS.Password, &redacted.NATS.Token} {
		if *secret != "" {
			*secret = "[REDACTED]"
		}
	}
	data, err := redacted.marshalJSON(false)
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as JSON or YAML, chosen by the file extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if formatOf(path) == "yaml" {
		data, err = yaml.Marshal(c)
	} else {
		data, err = c.marshalJSON(true)
	}
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode")
	}
	return safeWriteFile(path, data)
}

// marshalJSON encodes through the YAML form so durations come out as "100ms", which
// Load accepts back, rather than as nanosecond integers.
func (c *Config) marshalJSON(indent bool) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var plain map[string]any
	if err := yaml.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	if indent {
		return json.MarshalIndent(plain, "", "  ")
	}
	return json.Marshal(plain)
}

// Loader builds a Config from defaults, file layers and environment overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled and the BEAMLET environment prefix.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "BEAMLET",
	}
}

// AddLayer adds a configuration file. Later layers override earlier ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of environment overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// Load merges defaults, every layer and the environment, then validates.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.applyFile(cfg, path); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFile decodes path on top of cfg. Fields the file does not mention keep their value.
// JSON layers are re-encoded as YAML so that both formats accept duration strings.
func (l *Loader) applyFile(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	if formatOf(path) == "json" {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		if data, err = yaml.Marshal(raw); err != nil {
			return fmt.Errorf("re-encode json: %w", err)
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		*dst = val
		return nil
	}
	num := func(name string, dst *int) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = b
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = d
		return nil
	}

	var urls string
	errs := []error{
		str("NATS_URLS", &urls),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		str("INPUT_BIND", &cfg.Input.Bind),
		num("INPUT_PORT", &cfg.Input.Port),
		flag("BUFFER_SYNCHRONOUS", &cfg.Buffer.Synchronous),
		dur("BUFFER_MAX_NETWORK_DELAY", &cfg.Buffer.MaxNetworkDelay),
		str("OUTPUT_SUBJECT", &cfg.Output.Subject),
		flag("WEBSOCKET_ENABLED", &cfg.Feed.Enabled),
		num("WEBSOCKET_PORT", &cfg.Feed.Port),
		flag("METRICS_ENABLED", &cfg.Metrics.Enabled),
		num("METRICS_PORT", &cfg.Metrics.Port),
		str("LOG_LEVEL", &cfg.Log.Level),
		str("LOG_FORMAT", &cfg.Log.Format),
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if urls != "" {
		cfg.NATS.URLs = strings.Split(urls, ",")
	}
	return nil
}
