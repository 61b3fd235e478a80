// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Shared bootstrap for optiq commands.
//
// Every networked command needs the same three things: the effective
// configuration, the token store, and an API client wired with the
// configured timeout and poll policy. App bundles them so the command
// handlers stay small.
package cli

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jeranaias/optiq-tui/internal/api"
	"github.com/jeranaias/optiq-tui/internal/auth"
	"github.com/jeranaias/optiq-tui/internal/cache"
	"github.com/jeranaias/optiq-tui/internal/config"
)

// App holds the shared dependencies of a CLI command invocation.
type App struct {
	Config *config.Config
	Tokens *auth.TokenStore
	Client *api.Client
}

// NewApp loads configuration, opens the token store, and builds an API
// client. The --server flag, when given, overrides the configured URL.
func NewApp(args Args) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapError(err, "failed to load configuration")
	}

	if args.ServerURL != "" {
		if _, err := url.Parse(args.ServerURL); err != nil {
			return nil, &ValidationError{
				Field:   "server",
				Value:   args.ServerURL,
				Reason:  "not a valid URL",
				Example: "https://api.optiq.dev",
			}
		}
		cfg.Server.URL = args.ServerURL
	}

	dir, err := config.ConfigDir()
	if err != nil {
		return nil, WrapError(err, "failed to resolve config directory")
	}
	tokens := auth.NewTokenStore(dir)

	client := api.NewClient(cfg.Server.URL, api.TokenProvider(tokens.Provider())).
		WithTimeout(cfg.RequestTimeout()).
		WithPollPolicy(cfg.PollInterval(), cfg.Polling.MaxAttempts)

	return &App{
		Config: cfg,
		Tokens: tokens,
		Client: client,
	}, nil
}

// OpenCache opens the offline conversation cache, or returns nil when
// caching is disabled. Cache failures are not fatal to any command.
func (a *App) OpenCache() *cache.Cache {
	if !a.Config.Cache.Enabled {
		return nil
	}
	path, err := a.Config.CachePath()
	if err != nil {
		return nil
	}
	c, err := cache.Open(path, a.Config.Cache.MaxConversations)
	if err != nil {
		return nil
	}
	return c
}

// RequireToken returns a helpful error when no API token is configured.
func (a *App) RequireToken() error {
	if a.Tokens.HasToken() {
		return nil
	}
	return fmt.Errorf("no API token configured; run 'optiq auth login' or set OPTIQ_TOKEN")
}

// OpenLogger returns a logger appending to optiq.log in the config
// directory, for background errors that must not hit the terminal.
// Falls back to a discarding logger when the file cannot be opened.
func (a *App) OpenLogger() *log.Logger {
	dir, err := config.ConfigDir()
	if err != nil {
		return log.New(io.Discard, "", 0)
	}
	f, err := os.OpenFile(filepath.Join(dir, "optiq.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return log.New(io.Discard, "", 0)
	}
	return log.New(f, "", log.LstdFlags)
}
