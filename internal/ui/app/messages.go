// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"github.com/jeranaias/optiq-tui/internal/controller"
)

// =============================================================================
// PROGRAM MESSAGES
// =============================================================================

// ControllerEventMsg wraps a controller event delivered through the
// program's event channel.
type ControllerEventMsg struct {
	Event controller.Event
}

// SelectDoneMsg reports the outcome of a conversation resume started
// from the sidebar.
type SelectDoneMsg struct {
	ConversationID string
	Err            error
}

// RefreshDoneMsg reports the outcome of the startup conversation
// listing fetch.
type RefreshDoneMsg struct {
	Err error
}

// DeleteDoneMsg reports that a conversation delete finished.
type DeleteDoneMsg struct {
	ConversationID string
}
