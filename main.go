// optiq - terminal client for the optiq decision-modeling pipeline.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/jeranaias/optiq-tui/internal/cli"
	"github.com/jeranaias/optiq-tui/internal/config"
	"github.com/jeranaias/optiq-tui/internal/controller"
	"github.com/jeranaias/optiq-tui/internal/store"
	"github.com/jeranaias/optiq-tui/internal/ui/app"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Propagate build info to the cli package for `optiq version`.
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate

	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdAsk:
		cli.HandleAsk(args)
	case cli.CmdChat:
		cli.HandleChat(args)
	case cli.CmdSessions:
		cli.HandleSessions(args)
	case cli.CmdConfig:
		cli.HandleConfig(args)
	case cli.CmdAuth:
		cli.HandleAuth(args)
	case cli.CmdVersion:
		cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp()
	case cli.CmdTUI:
		runTUI(args)
	default:
		cli.PrintUsage()
		os.Exit(1)
	}
}

// runTUI wires the full-screen interface: config, auth, backend
// client, store, offline cache, and controller.
func runTUI(args cli.Args) {
	if err := cli.RequiresTTY("the TUI"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Hint: use 'optiq ask' for scripted queries.")
		os.Exit(cli.GetExitCode(err))
	}

	application, err := cli.NewApp(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
	if err := application.RequireToken(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}

	st := store.New()
	offline := application.OpenCache()
	if offline != nil {
		defer offline.Close()
		// Seed from the offline cache so the sidebar lists earlier
		// conversations before the server has been reached.
		if convs, err := offline.Conversations(); err == nil {
			for i := len(convs) - 1; i >= 0; i-- {
				st.Add(convs[i])
			}
		}
	}

	events := make(chan controller.Event, 32)
	opts := []controller.Option{
		controller.WithLogger(application.OpenLogger()),
		controller.WithSettleDelay(application.Config.AutoAdvanceDelay()),
		controller.WithNotify(func(ev controller.Event) {
			// Runs on controller goroutines; drop rather than block when
			// the program is not draining.
			select {
			case events <- ev:
			default:
			}
		}),
	}
	if offline != nil {
		opts = append(opts, controller.WithCache(offline))
	}
	ctrl := controller.New(st, application.Client, opts...)
	defer ctrl.Close()

	// Hot-reload the config file; transport settings were captured at
	// client construction, so the reload only surfaces a notice.
	if path, err := config.ConfigPath(); err == nil {
		if watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
			select {
			case events <- controller.Event{
				Kind:   controller.EventNotice,
				Notice: "Configuration reloaded; server settings apply on restart",
			}:
			default:
			}
		}); err == nil {
			if err := watcher.Watch(); err == nil {
				defer watcher.Close()
			}
		}
	}

	if err := app.Run(application.Config, st, ctrl, events, Version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
