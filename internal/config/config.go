// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for optiq.
//
// Supports TOML configuration with sensible defaults, environment
// variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.optiq/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/optiq-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete optiq configuration.
type Config struct {
	Version string `toml:"version"`

	// Server holds backend connection settings.
	Server ServerConfig `toml:"server"`

	// Polling controls job status polling.
	Polling PollingConfig `toml:"polling"`

	// Chat holds conversation behavior settings.
	Chat ChatConfig `toml:"chat"`

	// Cache holds the offline conversation cache settings.
	Cache CacheConfig `toml:"cache"`

	// UI holds terminal UI settings.
	UI UIConfig `toml:"ui"`
}

// ServerConfig contains backend connection settings.
type ServerConfig struct {
	// URL is the base URL of the optiq backend.
	URL string `toml:"url"`
	// TimeoutSecs is the per-request HTTP timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs"`
}

// PollingConfig controls how job results are polled. Values outside the
// documented ranges are clamped on load, not rejected.
type PollingConfig struct {
	// IntervalMS is the delay between poll attempts in milliseconds.
	// Valid range: 250-30000. Default: 2000.
	IntervalMS int `toml:"interval_ms"`
	// MaxAttempts bounds how many poll attempts are made before a job is
	// reported as timed out. Valid range: 1-600. Default: 30.
	MaxAttempts int `toml:"max_attempts"`
}

// ChatConfig contains conversation behavior settings.
type ChatConfig struct {
	// AutoAdvanceDelayMS is the pause before an accepted stage triggers
	// auto-generation of the next stage, in milliseconds. Gives the UI a
	// beat to settle before the next job starts. Default: 500.
	AutoAdvanceDelayMS int `toml:"auto_advance_delay_ms"`
}

// CacheConfig contains the offline conversation cache settings.
type CacheConfig struct {
	// Enabled controls whether conversations are mirrored to the local
	// SQLite cache for offline browsing.
	Enabled bool `toml:"enabled"`
	// Path is the cache database path (empty = ~/.optiq/cache.db).
	Path string `toml:"path"`
	// MaxConversations bounds how many conversations the cache retains.
	MaxConversations int `toml:"max_conversations"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto".
	Theme string `toml:"theme"`
	// CompactMode uses a more compact layout.
	CompactMode bool `toml:"compact_mode"`
	// ShowTimestamps displays message timestamps in the transcript.
	ShowTimestamps bool `toml:"show_timestamps"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			URL:         "https://api.optiq.dev",
			TimeoutSecs: 30,
		},

		Polling: PollingConfig{
			IntervalMS:  2000,
			MaxAttempts: 30,
		},

		Chat: ChatConfig{
			AutoAdvanceDelayMS: 500,
		},

		Cache: CacheConfig{
			Enabled:          true,
			MaxConversations: 500,
		},

		UI: UIConfig{
			Theme:          "dark",
			CompactMode:    false,
			ShowTimestamps: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the optiq configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".optiq"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CachePath resolves the cache database path, falling back to the
// default under the config directory.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache.db"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.optiq/config.toml, falling back to
// defaults when the file is absent. Environment overrides are applied
// last, then values are clamped and validated.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables take precedence over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OPTIQ_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("OPTIQ_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Polling.IntervalMS = n
		}
	}
	if v := os.Getenv("OPTIQ_POLL_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Polling.MaxAttempts = n
		}
	}
	if v := os.Getenv("OPTIQ_THEME"); v != "" {
		c.UI.Theme = v
	}
	if v := os.Getenv("OPTIQ_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills zero values and clamps out-of-range settings to
// their valid bounds. Clamping is preferred over rejection so a hand
// edited config never blocks startup.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Server.URL == "" {
		c.Server.URL = d.Server.URL
	}
	if c.Server.TimeoutSecs <= 0 {
		c.Server.TimeoutSecs = d.Server.TimeoutSecs
	}

	if c.Polling.IntervalMS <= 0 {
		c.Polling.IntervalMS = d.Polling.IntervalMS
	}
	if c.Polling.IntervalMS < 250 {
		c.Polling.IntervalMS = 250
	}
	if c.Polling.IntervalMS > 30000 {
		c.Polling.IntervalMS = 30000
	}

	if c.Polling.MaxAttempts <= 0 {
		c.Polling.MaxAttempts = d.Polling.MaxAttempts
	}
	if c.Polling.MaxAttempts > 600 {
		c.Polling.MaxAttempts = 600
	}

	if c.Chat.AutoAdvanceDelayMS <= 0 {
		c.Chat.AutoAdvanceDelayMS = d.Chat.AutoAdvanceDelayMS
	}
	if c.Chat.AutoAdvanceDelayMS > 10000 {
		c.Chat.AutoAdvanceDelayMS = 10000
	}

	if c.Cache.MaxConversations <= 0 {
		c.Cache.MaxConversations = d.Cache.MaxConversations
	}

	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		c.UI.Theme = d.UI.Theme
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server.url has no host: %q", c.Server.URL)
	}
	return nil
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMS) * time.Millisecond
}

// AutoAdvanceDelay returns the accept-to-autogenerate settle delay.
func (c *Config) AutoAdvanceDelay() time.Duration {
	return time.Duration(c.Chat.AutoAdvanceDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSecs) * time.Second
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to ~/.optiq/config.toml atomically with
// owner-only permissions.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file at the given path.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
