package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ClientConfig holds the connection settings for the graph service.
type ClientConfig struct {
	Host   string `yaml:"host"`
	Path   string `yaml:"path"`   // "/api/connect" or "/connect"
	Secure bool   `yaml:"secure"` // wss instead of ws

	// SessionToken may be stored encrypted as "enc:<salt>:<ciphertext>".
	SessionToken string `yaml:"session_token"`
	// AuthMode selects how the token reaches the server:
	// "query" embeds it in the connect URL, "login" and "token" send an
	// initial frame of that type, "none" sends nothing.
	AuthMode string `yaml:"auth_mode"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadLimit    int64         `yaml:"read_limit"`

	// SendRate caps outbound frames per second; 0 disables the limiter.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`

	// StrictFrames validates every inbound frame against the wire schema.
	StrictFrames bool `yaml:"strict_frames"`
}

// ReconnectConfig holds the reconnect policy layered over the client.
type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"` // how long the dial breaker stays open
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Auth modes.
const (
	AuthModeQuery = "query"
	AuthModeLogin = "login"
	AuthModeToken = "token"
	AuthModeNone  = "none"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			Host:         "localhost:8080",
			Path:         "/api/connect",
			AuthMode:     AuthModeNone,
			DialTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
			ReadLimit:    1 << 20,
			SendBurst:    16,
		},
		Reconnect: ReconnectConfig{
			Enabled:        false,
			MaxAttempts:    5,
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       30 * time.Second,
			BreakerTimeout: time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("GRAPHLINK_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps GRAPHLINK_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAPHLINK_HOST"); v != "" {
		cfg.Client.Host = v
	}
	if v := os.Getenv("GRAPHLINK_PATH"); v != "" {
		cfg.Client.Path = v
	}
	if v := os.Getenv("GRAPHLINK_SECURE"); v != "" {
		cfg.Client.Secure = v == "true"
	}
	if v := os.Getenv("GRAPHLINK_SESSION_TOKEN"); v != "" {
		cfg.Client.SessionToken = v
	}
	if v := os.Getenv("GRAPHLINK_AUTH_MODE"); v != "" {
		cfg.Client.AuthMode = v
	}
	if v := os.Getenv("GRAPHLINK_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.DialTimeout = d
		}
	}
	if v := os.Getenv("GRAPHLINK_SEND_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Client.SendRate = f
		}
	}
	if v := os.Getenv("GRAPHLINK_STRICT_FRAMES"); v == "true" {
		cfg.Client.StrictFrames = true
	}
	if v := os.Getenv("GRAPHLINK_RECONNECT_ENABLED"); v == "true" {
		cfg.Reconnect.Enabled = true
	}
	if v := os.Getenv("GRAPHLINK_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconnect.MaxAttempts = n
		}
	}
	if v := os.Getenv("GRAPHLINK_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GRAPHLINK_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("GRAPHLINK_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GRAPHLINK_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}
