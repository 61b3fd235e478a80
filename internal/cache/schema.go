// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

const (
	// SchemaVersion tracks the database schema version. The cache is
	// disposable: a version mismatch drops and recreates it rather than
	// migrating.
	SchemaVersion = 1
)

// SQLite schema for the offline conversation cache
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Conversations table: one row per conversation summary
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    backend_id TEXT,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,  -- Unix timestamp
    updated_at INTEGER NOT NULL,
    active_sub_chat INTEGER NOT NULL DEFAULT 0,
    accepted_model_message_id TEXT,
    accepted_code_message_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

-- Sub-chats table: per-stage message snapshots, stored as JSON
CREATE TABLE IF NOT EXISTS sub_chats (
    conversation_id TEXT NOT NULL,
    agent_type TEXT NOT NULL,
    position INTEGER NOT NULL,
    messages TEXT NOT NULL,       -- JSON array of messages
    accepted_message TEXT,        -- JSON message, NULL when not accepted
    PRIMARY KEY (conversation_id, agent_type),
    FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
) WITHOUT ROWID;
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
