// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, .env files, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing!"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9090"
  request_timeout: "20s"
  allowed_origins:
    - "https://hostel.example"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"

socket:
  ping_interval: "10s"
  idle_timeout: "30s"
  send_buffer: 16

presence:
  typing_timeout: "4s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 20*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"https://hostel.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, 10*time.Second, cfg.Socket.PingInterval)
	assert.Equal(t, 30*time.Second, cfg.Socket.IdleTimeout)
	assert.Equal(t, 16, cfg.Socket.SendBuffer)
	assert.Equal(t, 4*time.Second, cfg.Presence.TypingTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Untouched sections keep their defaults
	assert.Equal(t, 10*time.Minute, cfg.Idempotency.TTL)
	assert.Equal(t, 10000, cfg.Idempotency.MaxEntries)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, "*/15 * * * *", cfg.Reconcile.Schedule)
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:7000"

[database]
path = "/var/lib/hostel/messaging.db"

[presence]
typing_timeout = "3s"

[reconcile]
enabled = true
schedule = "0 * * * *"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/var/lib/hostel/messaging.db", cfg.Database.Path)
	assert.Equal(t, 3*time.Second, cfg.Presence.TypingTimeout)
	assert.Equal(t, "0 * * * *", cfg.Reconcile.Schedule)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 25*time.Second, cfg.Socket.PingInterval)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("HOSTEL_TEST_SECRET", testSecret)
	t.Setenv("HOSTEL_TEST_ADDR", "localhost:4444")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "${HOSTEL_TEST_ADDR}"
database:
  path: "./test.db"
auth:
  jwt_secret: "${HOSTEL_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:4444", cfg.Server.HTTPAddr)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	// Register for cleanup; godotenv sets it via os.Setenv
	t.Setenv("HOSTEL_DOTENV_SECRET", "")
	require.NoError(t, os.Unsetenv("HOSTEL_DOTENV_SECRET"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("HOSTEL_DOTENV_SECRET="+testSecret+"\n"), 0o600))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: "./test.db"
auth:
  jwt_secret: "${HOSTEL_DOTENV_SECRET}"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOSTEL_DOTENV_ADDR", "localhost:1111")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("HOSTEL_DOTENV_ADDR=localhost:2222\n"), 0o600))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: "${HOSTEL_DOTENV_ADDR}"
database:
  path: "./test.db"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:1111", cfg.Server.HTTPAddr)
}

func TestLoad_DBPathOverride(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/override.db")

	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
socket:
  ping_interval: "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket.ping_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name: "tailscale without http addr",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = "hostel"
			},
		},
		{
			name:    "tailscale needs hostname",
			mutate:  func(c *Config) { c.Tailscale.Enabled = true },
			wantErr: "tailscale.hostname",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "ping not shorter than idle",
			mutate:  func(c *Config) { c.Socket.PingInterval = c.Socket.IdleTimeout },
			wantErr: "must be shorter",
		},
		{
			name:    "zero send buffer",
			mutate:  func(c *Config) { c.Socket.SendBuffer = 0 },
			wantErr: "socket.send_buffer",
		},
		{
			name:    "bad cron schedule",
			mutate:  func(c *Config) { c.Reconcile.Schedule = "every tuesday" },
			wantErr: "reconcile.schedule",
		},
		{
			name: "bad cron schedule ignored when disabled",
			mutate: func(c *Config) {
				c.Reconcile.Enabled = false
				c.Reconcile.Schedule = "every tuesday"
			},
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, parseDurations(cfg))
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HOSTEL_A", "alpha")

	assert.Equal(t, "x-alpha-y", expandEnvVars("x-${HOSTEL_A}-y"))
	assert.Equal(t, "x--y", expandEnvVars("x-${HOSTEL_UNSET_VAR_XYZ}-y"))
	assert.Equal(t, "no vars", expandEnvVars("no vars"))
}

func TestDefaultYAML_Loads(t *testing.T) {
	path := writeConfig(t, "config.yaml", DefaultYAML("localhost:8181", "./hostel.db", testSecret))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8181", cfg.Server.HTTPAddr)
	assert.Equal(t, "./hostel.db", cfg.Database.Path)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, 6*time.Second, cfg.Presence.TypingTimeout)
}
