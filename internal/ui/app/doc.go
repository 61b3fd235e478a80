// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app implements the full-screen optiq TUI: a Bubble Tea
// program with a conversation sidebar, stage tabs for the
// modeler/coder/visualizer pipeline, a transcript viewport, and an
// input line. It renders store snapshots and reacts to controller
// events; all backend interaction goes through the controller.
package app
