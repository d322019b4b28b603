// Package config loads qwatch configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration.
type Config struct {
	Monitor MonitorConfig `toml:"monitor"`
	History HistoryConfig `toml:"history"`
	Color   string        `toml:"color"` // auto, always, never
}

// MonitorConfig holds polling and detection settings.
type MonitorConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`

	// ProcessName overrides the server executable name to look for;
	// empty means the platform default.
	ProcessName string `toml:"process_name"`

	// MaxAttempts and AttemptDelaySeconds tune the detection retry
	// loop; zero means the built-in defaults.
	MaxAttempts         int `toml:"max_attempts"`
	AttemptDelaySeconds int `toml:"attempt_delay_seconds"`
}

// HistoryConfig controls the local snapshot recorder.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // sqlite database file; empty = default
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{IntervalSeconds: 60},
		History: HistoryConfig{Enabled: false},
		Color:   "auto",
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qwatch", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "qwatch", "config.toml")
}

// DefaultHistoryPath returns the default sqlite database location.
func DefaultHistoryPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".qwatch", "history.db")
}

// Load reads configuration from the given path, or from DefaultPath
// when path is empty. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Monitor.IntervalSeconds < 0 {
		return fmt.Errorf("monitor.interval_seconds must be positive")
	}
	switch c.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("color must be auto, always or never, got %q", c.Color)
	}
	return nil
}

// Interval returns the polling interval as a duration.
func (c *Config) Interval() time.Duration {
	if c.Monitor.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// HistoryPath returns the configured or default history database path.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return DefaultHistoryPath()
}
