package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL())
}

func TestLoader_YAMLLayer(t *testing.T) {
	path := writeFile(t, t.TempDir(), "beamletd.yaml", `
buffer:
  capacity: 4096
  packet_length: 16
  subband_count: 4
  beam_count: 2
  synchronous: true
  max_network_delay: 250ms
output:
  subject: station.cs002
  count: 128
  delays: [0, 256]
nats:
  urls: ["nats://a:4222", "nats://b:4222"]
`)

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Buffer.Capacity)
	assert.Equal(t, 2, cfg.Buffer.BeamCount)
	assert.True(t, cfg.Buffer.Synchronous)
	assert.Equal(t, 250*time.Millisecond, cfg.Buffer.MaxNetworkDelay)
	assert.Equal(t, "station.cs002", cfg.Output.Subject)
	assert.Equal(t, []int{0, 256}, cfg.Output.Delays)
	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.NATS.URL())

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Input, cfg.Input)
	assert.Equal(t, Default().Output.Interval, cfg.Output.Interval)
}

func TestLoader_JSONOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", `
input:
  port: 5000
  flush_interval: 20ms
log:
  level: debug
`)
	site := writeFile(t, dir, "site.json", `{
	"input": {"port": 6000},
	"output": {"interval": "5ms", "workers": 8},
	"metrics": {"enabled": false}
}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(site)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Input.Port)
	assert.Equal(t, 20*time.Millisecond, cfg.Input.FlushInterval)
	assert.Equal(t, 5*time.Millisecond, cfg.Output.Interval)
	assert.Equal(t, 8, cfg.Output.Workers)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"typo.yaml": "buffer:\n  capacty: 4096\n",
		"typo.json": `{"nats": {"url": "nats://x:4222"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			loader := NewLoader()
			loader.AddLayer(writeFile(t, dir, name, content))
			_, err := loader.Load()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoader_EmptyLayer(t *testing.T) {
	loader := NewLoader()
	loader.AddLayer(writeFile(t, t.TempDir(), "empty.yaml", "\n"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Buffer, cfg.Buffer)
}

func TestLoader_RejectsBadPaths(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.yaml")},
		{"wrong extension", writeFile(t, dir, "beamletd.toml", "")},
		{"traversal", "../../etc/beamletd.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			loader.AddLayer(tt.path)
			_, err := loader.Load()
			require.Error(t, err)
		})
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("BEAMLET_NATS_URLS", "nats://one:4222,nats://two:4222")
	t.Setenv("BEAMLET_NATS_PASSWORD", "hunter2")
	t.Setenv("BEAMLET_INPUT_PORT", "4400")
	t.Setenv("BEAMLET_BUFFER_SYNCHRONOUS", "true")
	t.Setenv("BEAMLET_BUFFER_MAX_NETWORK_DELAY", "300ms")
	t.Setenv("BEAMLET_OUTPUT_SUBJECT", "lofar.beamlets")
	t.Setenv("BEAMLET_LOG_FORMAT", "text")
	t.Setenv("BEAMLET_WEBSOCKET_ENABLED", "1")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://one:4222", "nats://two:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "hunter2", cfg.NATS.Password)
	assert.Equal(t, 4400, cfg.Input.Port)
	assert.True(t, cfg.Buffer.Synchronous)
	assert.Equal(t, 300*time.Millisecond, cfg.Buffer.MaxNetworkDelay)
	assert.Equal(t, "lofar.beamlets", cfg.Output.Subject)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Feed.Enabled)
}

func TestLoader_EnvOverrideErrors(t *testing.T) {
	tests := map[string]string{
		"BEAMLET_INPUT_PORT":               "forty",
		"BEAMLET_BUFFER_SYNCHRONOUS":       "maybe",
		"BEAMLET_BUFFER_MAX_NETWORK_DELAY": "soon",
		"BEAMLET_METRICS_PORT":             strings.Repeat("9", maxEnvVarLen+1),
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := NewLoader().Load()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoader_EnvPrefix(t *testing.T) {
	t.Setenv("STATION_INPUT_PORT", "4500")

	loader := NewLoader()
	loader.SetEnvPrefix("STATION")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 4500, cfg.Input.Port)
}

func TestLoader_ValidationToggle(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "log:\n  level: loud\n")

	loader := NewLoader()
	loader.AddLayer(path)
	_, err := loader.Load()
	require.Error(t, err)

	loader.EnableValidation(false)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.Log.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"buffer geometry", func(c *Config) { c.Buffer.PacketLength = 0 }},
		{"input port", func(c *Config) { c.Input.Port = 70000 }},
		{"output count", func(c *Config) { c.Output.Count = 0 }},
		{"subject wildcard", func(c *Config) { c.Output.Subject = "beamlet.>" }},
		{"subject empty token", func(c *Config) { c.Output.Subject = "beamlet..x" }},
		{"more delays than beams", func(c *Config) { c.Output.Delays = []int{0, 0} }},
		{"window beyond history", func(c *Config) { c.Output.Delay = c.Buffer.History() }},
		{"beam delay beyond history", func(c *Config) {
			c.Buffer.BeamCount = 2
			c.Output.Delays = []int{0, c.Buffer.History()}
		}},
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }},
		{"tls cert without key", func(c *Config) { c.NATS.TLS.CertFile = "client.pem" }},
		{"tls min version", func(c *Config) { c.NATS.TLS.MinVersion = "1.0" }},
		{"metrics port", func(c *Config) { c.Metrics.Port = 0 }},
		{"health interval", func(c *Config) { c.Metrics.HealthInterval = 0 }},
		{"websocket queue", func(c *Config) {
			c.Feed.Enabled = true
			c.Feed.ClientQueue = 0
		}},
		{"websocket port clash", func(c *Config) {
			c.Feed.Enabled = true
			c.Feed.Port = c.Metrics.Port
		}},
		{"log level", func(c *Config) { c.Log.Level = "trace" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}

	t.Run("metrics port ignored when disabled", func(t *testing.T) {
		cfg := Default()
		cfg.Metrics.Enabled = false
		cfg.Metrics.Port = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Username = "station"
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cr3t"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "s3cr3t")
	assert.Contains(t, s, "[REDACTED]")
	assert.Contains(t, s, "station")
	assert.Contains(t, s, `"100ms"`)

	assert.Equal(t, "hunter2", cfg.NATS.Password, "String must not modify the config")
}

func TestConfig_SaveAndReload(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Buffer.Synchronous = true
	cfg.Buffer.MaxNetworkDelay = 75 * time.Millisecond
	cfg.Output.Subject = "station.rs106"
	cfg.Input.ReadBuffer = 16 * 1024 * 1024

	for _, name := range []string{"saved.yaml", "saved.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, cfg.SaveToFile(path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loader := NewLoader()
			loader.AddLayer(path)
			loaded, err := loader.Load()
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}
