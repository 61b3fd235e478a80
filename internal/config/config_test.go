// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.URL == "" {
		t.Error("default server URL should not be empty")
	}
	if cfg.Polling.IntervalMS != 2000 {
		t.Errorf("default poll interval = %d, want 2000", cfg.Polling.IntervalMS)
	}
	if cfg.Polling.MaxAttempts != 30 {
		t.Errorf("default max attempts = %d, want 30", cfg.Polling.MaxAttempts)
	}
	if cfg.Chat.AutoAdvanceDelayMS != 500 {
		t.Errorf("default auto-advance delay = %d, want 500", cfg.Chat.AutoAdvanceDelayMS)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestSetDefaultsClampsPolling(t *testing.T) {
	tests := []struct {
		name         string
		intervalMS   int
		maxAttempts  int
		wantInterval int
		wantAttempts int
	}{
		{"zero values get defaults", 0, 0, 2000, 30},
		{"interval below floor", 50, 10, 250, 10},
		{"interval above ceiling", 60000, 10, 30000, 10},
		{"attempts above ceiling", 2000, 9999, 2000, 600},
		{"negative values get defaults", -5, -1, 2000, 30},
		{"in-range values kept", 5000, 120, 5000, 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Polling: PollingConfig{IntervalMS: tt.intervalMS, MaxAttempts: tt.maxAttempts},
			}
			cfg.SetDefaults()
			if cfg.Polling.IntervalMS != tt.wantInterval {
				t.Errorf("interval = %d, want %d", cfg.Polling.IntervalMS, tt.wantInterval)
			}
			if cfg.Polling.MaxAttempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", cfg.Polling.MaxAttempts, tt.wantAttempts)
			}
		})
	}
}

func TestSetDefaultsTheme(t *testing.T) {
	cfg := &Config{UI: UIConfig{Theme: "solarized"}}
	cfg.SetDefaults()
	if cfg.UI.Theme != "dark" {
		t.Errorf("unknown theme should fall back to dark, got %q", cfg.UI.Theme)
	}

	cfg = &Config{UI: UIConfig{Theme: "light"}}
	cfg.SetDefaults()
	if cfg.UI.Theme != "light" {
		t.Errorf("valid theme should survive, got %q", cfg.UI.Theme)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OPTIQ_SERVER_URL", "https://staging.optiq.dev")
	t.Setenv("OPTIQ_POLL_INTERVAL_MS", "750")
	t.Setenv("OPTIQ_POLL_MAX_ATTEMPTS", "90")
	t.Setenv("OPTIQ_THEME", "light")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.URL != "https://staging.optiq.dev" {
		t.Errorf("server URL = %q", cfg.Server.URL)
	}
	if cfg.Polling.IntervalMS != 750 {
		t.Errorf("interval = %d, want 750", cfg.Polling.IntervalMS)
	}
	if cfg.Polling.MaxAttempts != 90 {
		t.Errorf("attempts = %d, want 90", cfg.Polling.MaxAttempts)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("theme = %q, want light", cfg.UI.Theme)
	}
}

func TestApplyEnvOverridesIgnoresGarbage(t *testing.T) {
	t.Setenv("OPTIQ_POLL_INTERVAL_MS", "not-a-number")
	cfg := Default()
	cfg.ApplyEnvOverrides()
	if cfg.Polling.IntervalMS != 2000 {
		t.Errorf("garbage env value should be ignored, got %d", cfg.Polling.IntervalMS)
	}
}

func TestValidateRejectsBadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"no scheme", "api.optiq.dev"},
		{"bad scheme", "ftp://api.optiq.dev"},
		{"empty host", "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.URL = tt.url
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate(%q) should fail", tt.url)
			}
		})
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
version = "1.0.0"

[server]
url = "https://api.example.com"
timeout_secs = 15

[polling]
interval_ms = 100
max_attempts = 5

[ui]
theme = "light"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Server.URL != "https://api.example.com" {
		t.Errorf("server URL = %q", cfg.Server.URL)
	}
	if cfg.Server.TimeoutSecs != 15 {
		t.Errorf("timeout = %d, want 15", cfg.Server.TimeoutSecs)
	}
	// 100ms is below the floor; load clamps it.
	if cfg.Polling.IntervalMS != 250 {
		t.Errorf("interval = %d, want clamped 250", cfg.Polling.IntervalMS)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("theme = %q, want light", cfg.UI.Theme)
	}
	// Unspecified sections keep defaults.
	if cfg.Chat.AutoAdvanceDelayMS != 500 {
		t.Errorf("auto-advance delay = %d, want default 500", cfg.Chat.AutoAdvanceDelayMS)
	}
}

func TestLoadFromPathFixesPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`version = "1.0.0"`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Server.URL = "https://api.example.com"
	cfg.Polling.MaxAttempts = 45
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Server.URL != cfg.Server.URL {
		t.Errorf("round-trip server URL = %q, want %q", loaded.Server.URL, cfg.Server.URL)
	}
	if loaded.Polling.MaxAttempts != 45 {
		t.Errorf("round-trip attempts = %d, want 45", loaded.Polling.MaxAttempts)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval())
	}
	if cfg.AutoAdvanceDelay() != 500*time.Millisecond {
		t.Errorf("AutoAdvanceDelay = %v", cfg.AutoAdvanceDelay())
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout())
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`version = "1.0.0"`), 0600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	if err := w.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	next := `
[server]
url = "https://changed.example.com"
`
	if err := os.WriteFile(path, []byte(next), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.URL != "https://changed.example.com" {
			t.Errorf("reloaded URL = %q", cfg.Server.URL)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config reload never observed")
	}
}
