package websocket

import (
	"fmt"
	"time"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/pkg/tlsutil"
)

// Config holds configuration for the websocket window feed.
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"` // 0 picks a free port
	Path    string `json:"path" yaml:"path"`

	// IncludeData sends the raw samples with each window. Without it clients only see
	// the window description and its gaps.
	IncludeData bool `json:"include_data" yaml:"include_data"`

	// ClientQueue is how many windows may wait for one client before new ones are
	// dropped for that client.
	ClientQueue int `json:"client_queue" yaml:"client_queue"`

	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`

	// TLS serves the feed as wss://.
	TLS tlsutil.ServerConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// DefaultConfig returns a disabled feed on port 8081.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Port:         8081,
		Path:         "/ws",
		ClientQueue:  64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the feed configuration.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
			"websocket-output", "Validate", "config check")
	}

	switch {
	case c.Port < 0 || c.Port > 65535:
		return invalid("invalid port %d", c.Port)
	case c.Path == "" || c.Path[0] != '/':
		return invalid("path %q must start with /", c.Path)
	case c.ClientQueue <= 0:
		return invalid("client_queue must be positive, got %d", c.ClientQueue)
	case c.WriteTimeout <= 0:
		return invalid("write_timeout must be positive")
	case c.PingInterval <= 0:
		return invalid("ping_interval must be positive")
	}
	return c.TLS.Validate()
}
