// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for optiq.
//
// Supports TOML configuration with sensible defaults, environment
// variable overrides, and validation. Out-of-range numeric settings are
// clamped on load rather than rejected.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: Backend connection settings
//   - PollingConfig: Job polling interval and attempt budget
//   - CacheConfig: Offline conversation cache settings
//   - Watcher: Hot reload of the config file via fsnotify
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OPTIQ_*)
//   - ~/.optiq/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	interval := cfg.PollInterval()
//	theme := cfg.UI.Theme
package config
