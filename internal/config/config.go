// Package config loads daemon configuration from a TOML file, falling back
// to defaults for anything unset.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/errors"
)

// Duration wraps time.Duration so TOML values like "5m" decode directly.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the daemon configuration.
type Config struct {
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`

	Server ServerConfig `toml:"server"`
	Sync   SyncConfig   `toml:"sync"`
}

// ServerConfig describes the upstream API and the local status listener.
type ServerConfig struct {
	APIBaseURL     string   `toml:"api_base_url"`
	RequestTimeout Duration `toml:"request_timeout"`
	StatusAddr     string   `toml:"status_addr"`
}

// SyncConfig controls the orchestrator and trigger.
type SyncConfig struct {
	MaxRetries      int      `toml:"max_retries"`
	SyncInterval    Duration `toml:"sync_interval"`
	CleanupInterval Duration `toml:"cleanup_interval"`
	Retention       Duration `toml:"retention"`
	MonitorInterval Duration `toml:"monitor_interval"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		Server: ServerConfig{
			APIBaseURL:     "http://localhost:8080/api",
			RequestTimeout: Duration(30 * time.Second),
			StatusAddr:     "127.0.0.1:9090",
		},
		Sync: SyncConfig{
			MaxRetries:      3,
			SyncInterval:    Duration(5 * time.Minute),
			CleanupInterval: Duration(time.Hour),
			Retention:       Duration(7 * 24 * time.Hour),
			MonitorInterval: Duration(30 * time.Second),
		},
	}
}

// LoadFromFile reads path and overlays it onto the defaults. A missing file
// is not an error; the defaults are returned as-is.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "failed to parse config file", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrValidation, "data_dir must not be empty")
	}
	if c.Server.APIBaseURL == "" {
		return errors.New(errors.ErrValidation, "server.api_base_url must not be empty")
	}
	if c.Sync.MaxRetries <= 0 {
		return errors.New(errors.ErrValidation, "sync.max_retries must be positive")
	}
	return nil
}
