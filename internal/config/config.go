// ABOUTME: Configuration loading and parsing for hostel-messaging
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvConfigPath = "HOSTEL_CONFIG"
	EnvDBPath     = "HOSTEL_DB_PATH"
)

// minJWTSecretLength mirrors auth.MinSecretLength.
const minJWTSecretLength = 32

// Config represents the complete hostel-messaging configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Socket      SocketConfig      `yaml:"socket" toml:"socket"`
	Presence    PresenceConfig    `yaml:"presence" toml:"presence"`
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Reconcile   ReconcileConfig   `yaml:"reconcile" toml:"reconcile"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr" toml:"http_addr"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins"`

	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SocketConfig holds websocket heartbeat and buffering configuration
type SocketConfig struct {
	PingInterval time.Duration `yaml:"-" toml:"-"`
	IdleTimeout  time.Duration `yaml:"-" toml:"-"`
	SendBuffer   int           `yaml:"send_buffer" toml:"send_buffer"`

	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
	IdleTimeoutRaw  string `yaml:"idle_timeout" toml:"idle_timeout"`
}

// PresenceConfig holds typing indicator configuration
type PresenceConfig struct {
	TypingTimeout time.Duration `yaml:"-" toml:"-"`

	TypingTimeoutRaw string `yaml:"typing_timeout" toml:"typing_timeout"`
}

// IdempotencyConfig holds the send idempotency cache configuration
type IdempotencyConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// ReconcileConfig holds preview reconciliation configuration
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Schedule string `yaml:"schedule" toml:"schedule"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS on :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:          "localhost:8080",
			RequestTimeoutRaw: "15s",
			AllowedOrigins:    []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "hostel-messaging.db",
		},
		Socket: SocketConfig{
			PingIntervalRaw: "25s",
			IdleTimeoutRaw:  "60s",
			SendBuffer:      64,
		},
		Presence: PresenceConfig{
			TypingTimeoutRaw: "6s",
		},
		Idempotency: IdempotencyConfig{
			TTLRaw:     "10m",
			MaxEntries: 10000,
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "*/15 * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config (or in the working directory) is loaded first
// without overriding variables already set. ${VAR_NAME} references are
// expanded. Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env files beside the config file and in the working
// directory. Missing files are ignored.
func loadDotEnv(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	seen := make(map[string]bool)

	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", abs, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Database.Path = p
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	if c.Socket.PingInterval <= 0 || c.Socket.IdleTimeout <= 0 {
		return fmt.Errorf("socket.ping_interval and socket.idle_timeout must be positive")
	}
	if c.Socket.PingInterval >= c.Socket.IdleTimeout {
		return fmt.Errorf("socket.ping_interval (%s) must be shorter than socket.idle_timeout (%s)",
			c.Socket.PingInterval, c.Socket.IdleTimeout)
	}
	if c.Socket.SendBuffer <= 0 {
		return fmt.Errorf("socket.send_buffer must be positive")
	}

	if c.Presence.TypingTimeout <= 0 {
		return fmt.Errorf("presence.typing_timeout must be positive")
	}

	if c.Idempotency.TTL <= 0 || c.Idempotency.MaxEntries <= 0 {
		return fmt.Errorf("idempotency.ttl and idempotency.max_entries must be positive")
	}

	if c.Reconcile.Enabled {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			return fmt.Errorf("reconcile.schedule %q: %w", c.Reconcile.Schedule, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"socket.ping_interval", cfg.Socket.PingIntervalRaw, &cfg.Socket.PingInterval},
		{"socket.idle_timeout", cfg.Socket.IdleTimeoutRaw, &cfg.Socket.IdleTimeout},
		{"presence.typing_timeout", cfg.Presence.TypingTimeoutRaw, &cfg.Presence.TypingTimeout},
		{"idempotency.ttl", cfg.Idempotency.TTLRaw, &cfg.Idempotency.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// DefaultYAML renders a starter configuration file.
func DefaultYAML(httpAddr, dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# hostel-messaging configuration

server:
  http_addr: "%s"
  request_timeout: "15s"
  allowed_origins:
    - "*"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

socket:
  ping_interval: "25s"
  idle_timeout: "60s"
  send_buffer: 64

presence:
  typing_timeout: "6s"

idempotency:
  ttl: "10m"
  max_entries: 10000

reconcile:
  enabled: true
  schedule: "*/15 * * * *"

tailscale:
  enabled: false

logging:
  level: "info"
  format: "text"
`, httpAddr, dbPath, jwtSecret)
}
