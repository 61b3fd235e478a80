// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the optiq client:
// rune- and width-safe string truncation for terminal display, and
// crash-safe atomic file writes used by the token store and the
// generated-artifact writer.
package util
