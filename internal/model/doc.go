// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for the optiq agent pipeline:
// conversations, their per-agent sub-chats, messages, retry descriptors,
// and the visualization report envelope.
//
// A conversation owns an ordered sequence of sub-chats, one per pipeline
// stage (modeler, coder, visualizer). Accepting a stage's result appends
// the next stage's sub-chat; sub-chats are never removed. Messages are
// append-only except that error messages carrying a retry descriptor are
// filtered out once their retry succeeds.
package model
