// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the client for the optiq backend: job submission,
// cancellable status polling, and the conversation endpoints.
//
// Jobs are backend-orchestrated and may outlive a client session, so the
// package polls rather than streams: bounded attempts prevent unbounded
// background work if the backend never responds, and every poll is
// cancellable because the user can navigate away mid-poll.
package api
