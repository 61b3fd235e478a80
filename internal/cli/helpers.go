// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Shared helpers used across optiq CLI commands.
package cli

import (
	"fmt"
	"time"

	"github.com/jeranaias/optiq-tui/internal/model"
)

// shortStageName maps a pipeline stage to its terse CLI name.
func shortStageName(stage model.AgentType) string {
	switch stage {
	case model.AgentModeler:
		return "modeler"
	case model.AgentCoder:
		return "coder"
	case model.AgentVisualizer:
		return "visualizer"
	default:
		return string(stage)
	}
}

// formatDurationShort formats a short duration string for progress output.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

// formatRelativeTime renders a timestamp as a human "3h ago" string for
// the sessions listing.
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
