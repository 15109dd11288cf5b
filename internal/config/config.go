// Package config provides configuration structures and loading logic for traceview.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the root configuration structure for traceview.
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	API    APIConfig    `mapstructure:"api"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Render RenderConfig `mapstructure:"render"`
}

// AppConfig defines application-level settings such as host and port.
type AppConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// APIConfig defines how to reach the monitoring API that serves traces and events.
type APIConfig struct {
	URL          string `mapstructure:"url"`
	Organization string `mapstructure:"organization"`
	TokenEnv     string `mapstructure:"token_env"`
	Token        string `mapstructure:"-"`
	Timeout      string `mapstructure:"timeout"`
}

// CacheConfig defines the local SQLite cache of fetched events.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	TTL     string `mapstructure:"ttl"`
}

// RenderConfig defines the text rendering of trace views.
type RenderConfig struct {
	Color  bool `mapstructure:"color"`
	Indent int  `mapstructure:"indent"`
}

// GetTimeoutDuration parses the configured string timeout into a time.Duration.
func (c *APIConfig) GetTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetTTLDuration returns how long cached events stay fresh.
func (c *CacheConfig) GetTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// SlogLevel maps the configured log level to a slog.Level, defaulting to info.
func (c *AppConfig) SlogLevel() slog.Level {
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

// Load loads configuration from config.yaml or environment variables. An
// explicit path, when not empty, replaces the search paths.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/traceview")
	}

	// Allow environment variables to override config
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("api.url", "https://sentry.io")
	v.SetDefault("api.organization", "")
	v.SetDefault("api.token_env", "TRACEVIEW_TOKEN")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "./data/traceview.db")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("render.color", true)
	v.SetDefault("render.indent", 4)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.API.TokenEnv != "" {
		cfg.API.Token = os.Getenv(cfg.API.TokenEnv)
	}

	return &cfg, nil
}
