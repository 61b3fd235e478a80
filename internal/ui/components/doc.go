// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides reusable UI components for the optiq TUI:
// syntax-highlighted code blocks for coder-stage answers, file cards for
// visualization artifacts, and non-blocking toast notifications.
package components
