// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/optiq-tui/internal/config"
	"github.com/jeranaias/optiq-tui/internal/controller"
	"github.com/jeranaias/optiq-tui/internal/store"
)

// Run starts the TUI and blocks until the user quits. events must be
// the channel wired into the controller's notify callback before Run
// is called.
func Run(cfg *config.Config, st *store.Store, ctrl *controller.Controller, events <-chan controller.Event, version string) error {
	m := New(cfg, st, ctrl, events, version)

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
