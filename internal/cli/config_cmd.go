// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration command for the optiq CLI.
//
// Subcommands:
//
//	show (default)  Print the effective configuration
//	path            Print the config file path
//	init            Write a default config file when none exists
//	set KEY VALUE   Update one setting and save
package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jeranaias/optiq-tui/internal/config"
)

// HandleConfigCommand handles the "config" command.
func HandleConfigCommand(args Args) error {
	switch args.Subcommand {
	case "", "show":
		return configShow(args)
	case "path":
		return configPath()
	case "init":
		return configInit()
	case "set":
		return configSet(args)
	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   args.Subcommand,
			Reason:  "unknown config subcommand",
			Example: "optiq config [show|path|init|set]",
		}
	}
}

// configShow prints the effective configuration (file + env overrides
// + defaults), with the file path last.
func configShow(args Args) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config", cfg).Print()
	}

	path, _ := config.ConfigPath()

	fmt.Println(TitleStyle.Render("optiq configuration"))
	printSetting("server.url", cfg.Server.URL)
	printSetting("server.timeout_secs", strconv.Itoa(cfg.Server.TimeoutSecs))
	printSetting("polling.interval_ms", strconv.Itoa(cfg.Polling.IntervalMS))
	printSetting("polling.max_attempts", strconv.Itoa(cfg.Polling.MaxAttempts))
	printSetting("chat.auto_advance_delay_ms", strconv.Itoa(cfg.Chat.AutoAdvanceDelayMS))
	printSetting("cache.enabled", strconv.FormatBool(cfg.Cache.Enabled))
	printSetting("cache.max_conversations", strconv.Itoa(cfg.Cache.MaxConversations))
	if cachePath, err := cfg.CachePath(); err == nil {
		printSetting("cache.path", cachePath)
	}
	printSetting("ui.theme", cfg.UI.Theme)
	printSetting("ui.compact_mode", strconv.FormatBool(cfg.UI.CompactMode))
	printSetting("ui.show_timestamps", strconv.FormatBool(cfg.UI.ShowTimestamps))
	fmt.Println()
	fmt.Printf("%s %s\n", LabelStyle.Render("Config file"), DimStyle.Render(path))
	return nil
}

func printSetting(key, value string) {
	fmt.Printf("  %s %s\n", LabelStyle.Render(key), ValueStyle.Render(value))
}

// configPath prints the config file location.
func configPath() error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// configInit writes a default configuration file when none exists.
func configInit() error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := config.Save(config.Default()); err != nil {
		return WrapError(err, "failed to write config file")
	}
	fmt.Printf("%s Wrote %s\n", SuccessStyle.Render("[ok]"), path)
	return nil
}

// configSet updates a single setting and saves the file. Values are
// validated and clamped the same way configuration loading does.
func configSet(args Args) error {
	if args.ConfigKey == "" || args.ConfigVal == "" {
		return ErrMissingArgument("key and value", "optiq config set server.url https://api.optiq.dev")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	key := strings.ToLower(args.ConfigKey)
	val := args.ConfigVal

	switch key {
	case "server.url":
		cfg.Server.URL = val
	case "server.timeout_secs":
		n, err := strconv.Atoi(val)
		if err != nil {
			return badIntValue(key, val)
		}
		cfg.Server.TimeoutSecs = n
	case "polling.interval_ms":
		n, err := strconv.Atoi(val)
		if err != nil {
			return badIntValue(key, val)
		}
		cfg.Polling.IntervalMS = n
	case "polling.max_attempts":
		n, err := strconv.Atoi(val)
		if err != nil {
			return badIntValue(key, val)
		}
		cfg.Polling.MaxAttempts = n
	case "chat.auto_advance_delay_ms":
		n, err := strconv.Atoi(val)
		if err != nil {
			return badIntValue(key, val)
		}
		cfg.Chat.AutoAdvanceDelayMS = n
	case "cache.enabled":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return &ValidationError{Field: key, Value: val, Reason: "must be true or false"}
		}
		cfg.Cache.Enabled = b
	case "cache.max_conversations":
		n, err := strconv.Atoi(val)
		if err != nil {
			return badIntValue(key, val)
		}
		cfg.Cache.MaxConversations = n
	case "ui.theme":
		cfg.UI.Theme = val
	default:
		return &ValidationError{
			Field:   "key",
			Value:   args.ConfigKey,
			Reason:  "unknown setting",
			Example: "server.url, polling.interval_ms, ui.theme, ...",
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return WrapError(err, "failed to save config file")
	}

	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[ok]"), key, val)
	return nil
}

func badIntValue(key, val string) error {
	return &ValidationError{Field: key, Value: val, Reason: "must be an integer"}
}
