// Package config loads lostfound settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "lostfound.yaml"

// Config holds all service settings.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Matching MatchingConfig `yaml:"matching"`
	Caption  CaptionConfig  `yaml:"caption"`
	Cache    CacheConfig    `yaml:"cache"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	// MaxBodyBytes caps JSON and image request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxConns        int32  `yaml:"max_conns"`
	MaxConnIdleTime string `yaml:"max_conn_idle_time"`
	MaxConnLifetime string `yaml:"max_conn_lifetime"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  string `yaml:"token_ttl"`
}

type MatchingConfig struct {
	Limit          int    `yaml:"limit"`
	TextMode       string `yaml:"text_mode"` // annotate, prefer
	OpenOnly       bool   `yaml:"open_only"`
	ConfirmTimeout string `yaml:"confirm_timeout"`
	LockTimeout    string `yaml:"lock_timeout"`
}

type CaptionConfig struct {
	Provider string `yaml:"provider"` // "", gemini, huggingface
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`
}

type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	TTL       string `yaml:"ttl"`
}

// OutboxConfig drives the relay that publishes outbox rows. Messages go to
// Redis pub/sub when cache.redis_addr is set and to the log otherwise.
type OutboxConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PollInterval  string `yaml:"poll_interval"`
	MaxAttempts   int    `yaml:"max_attempts"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "10s",
			MaxBodyBytes:    10 << 20,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MaxConnIdleTime: "5m",
			MaxConnLifetime: "1h",
		},
		Auth: AuthConfig{
			TokenTTL: "24h",
		},
		Matching: MatchingConfig{
			Limit:          10,
			TextMode:       "annotate",
			ConfirmTimeout: "5s",
			LockTimeout:    "2s",
		},
		Caption: CaptionConfig{
			Timeout: "10s",
		},
		Cache: CacheConfig{
			TTL: "168h",
		},
		Outbox: OutboxConfig{
			Enabled:       true,
			PollInterval:  "1s",
			MaxAttempts:   5,
			ChannelPrefix: "lostfound.",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file leaves the defaults in
// place. Environment variables are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("LOSTFOUND_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Caption.APIKey = key
		if c.Caption.Provider == "" {
			c.Caption.Provider = "gemini"
		}
	}
	if token := os.Getenv("HF_API_TOKEN"); token != "" {
		c.Caption.APIKey = token
		c.Caption.Provider = "huggingface"
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Cache.RedisAddr = addr
	}
}

var (
	ValidTextModes = []string{"annotate", "prefer"}
	ValidProviders = []string{"", "gemini", "huggingface"}
	ValidLevels    = []string{"debug", "info", "warn", "error"}
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Database.URL == "" {
		err = multierr.Append(err, errors.New("database.url is required (or set DATABASE_URL)"))
	}
	if c.Auth.JWTSecret == "" {
		err = multierr.Append(err, errors.New("auth.jwt_secret is required (or set JWT_SECRET)"))
	}
	if c.Matching.Limit <= 0 || c.Matching.Limit > 10 {
		err = multierr.Append(err, fmt.Errorf("matching.limit must be between 1 and 10, got %d", c.Matching.Limit))
	}
	if !oneOf(c.Matching.TextMode, ValidTextModes) {
		err = multierr.Append(err, fmt.Errorf("matching.text_mode %q (valid: %v)", c.Matching.TextMode, ValidTextModes))
	}
	if !oneOf(c.Caption.Provider, ValidProviders) {
		err = multierr.Append(err, fmt.Errorf("caption.provider %q (valid: gemini, huggingface)", c.Caption.Provider))
	}
	if c.Caption.Provider == "gemini" && c.Caption.APIKey == "" {
		err = multierr.Append(err, errors.New("caption.api_key is required for gemini (or set GEMINI_API_KEY)"))
	}
	if !oneOf(c.Logging.Level, ValidLevels) {
		err = multierr.Append(err, fmt.Errorf("logging.level %q (valid: %v)", c.Logging.Level, ValidLevels))
	}
	for name, v := range map[string]string{
		"server.read_timeout":         c.Server.ReadTimeout,
		"server.write_timeout":        c.Server.WriteTimeout,
		"server.shutdown_timeout":     c.Server.ShutdownTimeout,
		"database.max_conn_idle_time": c.Database.MaxConnIdleTime,
		"database.max_conn_lifetime":  c.Database.MaxConnLifetime,
		"auth.token_ttl":              c.Auth.TokenTTL,
		"matching.confirm_timeout":    c.Matching.ConfirmTimeout,
		"matching.lock_timeout":       c.Matching.LockTimeout,
		"caption.timeout":             c.Caption.Timeout,
		"cache.ttl":                   c.Cache.TTL,
		"outbox.poll_interval":        c.Outbox.PollInterval,
	} {
		if v == "" {
			continue
		}
		if _, perr := time.ParseDuration(v); perr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", name, perr))
		}
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Duration parses a duration field, falling back to def when it is blank or
// malformed.
func Duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}
