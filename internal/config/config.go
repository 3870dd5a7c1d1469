// Package config loads settings for both binaries from an optional app.env
// file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Durable store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	// Identity API
	HTTPPort  int           `mapstructure:"HTTP_PORT"`
	DBPath    string        `mapstructure:"DB_PATH"`
	JWTSecret string        `mapstructure:"JWT_SECRET"`
	TokenTTL  time.Duration `mapstructure:"TOKEN_TTL"`

	// Client
	APIBaseURL     string        `mapstructure:"API_BASE_URL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	DurableBackend string        `mapstructure:"DURABLE_BACKEND"`
	DurablePath    string        `mapstructure:"DURABLE_PATH"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int           `mapstructure:"REDIS_DB"`
	SyncChannel    string        `mapstructure:"SYNC_CHANNEL"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

var defaults = map[string]any{
	"HTTP_PORT":       8080,
	"DB_PATH":         "data/identity.db",
	"JWT_SECRET":      "",
	"TOKEN_TTL":       24 * time.Hour,
	"API_BASE_URL":    "http://localhost:8080",
	"REQUEST_TIMEOUT": 10 * time.Second,
	"DURABLE_BACKEND": BackendSQLite,
	"DURABLE_PATH":    "data/browser.db",
	"REDIS_ADDR":      "",
	"REDIS_PASSWORD":  "",
	"REDIS_DB":        0,
	"SYNC_CHANNEL":    "session-events",
	"LOG_LEVEL":       "info",
}

// Load reads path/app.env if it exists, then the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// SetDefault also makes AutomaticEnv see the key when Unmarshal runs.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: reading app.env: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.DurableBackend = strings.ToLower(strings.TrimSpace(cfg.DurableBackend))
	return cfg, nil
}

// ValidateClient checks the settings coursectl needs.
func (c Config) ValidateClient() error {
	switch c.DurableBackend {
	case BackendSQLite:
		if c.DurablePath == "" {
			return errors.New("config: DURABLE_PATH is required for the sqlite backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown DURABLE_BACKEND %q (want %s or %s)", c.DurableBackend, BackendSQLite, BackendRedis)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// ValidateServer checks the settings identityd needs.
func (c Config) ValidateServer() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: HTTP_PORT %d out of range", c.HTTPPort)
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: TOKEN_TTL must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
