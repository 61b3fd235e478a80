// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the optiq command-line surface: argument
// parsing, one-shot queries (ask), the interactive pipeline REPL
// (chat), session listing, configuration and token management.
//
// The TUI program itself lives in internal/ui; this package only
// routes to it.
package cli
