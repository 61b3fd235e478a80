// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache mirrors conversations into a local SQLite database so
// the sidebar renders instantly at startup and listings work offline.
//
// The cache is strictly best-effort: write failures are logged and
// swallowed, and a schema version mismatch drops the database instead
// of migrating it. The backend remains the source of truth.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/optiq-tui/internal/model"
)

// ErrClosed indicates the cache has been closed.
var ErrClosed = errors.New("cache is closed")

// Cache is the offline conversation store.
type Cache struct {
	db   *sql.DB
	path string
	max  int
}

// Open opens (or creates) the cache database at path. maxConversations
// bounds retention; older conversations are pruned on save.
func Open(path string, maxConversations int) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &Cache{db: db, path: path, max: maxConversations}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return c, nil
}

// initSchema creates the schema, recreating the database wholesale when
// the stored version does not match.
func (c *Cache) initSchema() error {
	if _, err := c.db.Exec(Schema); err != nil {
		return err
	}
	if _, err := c.db.Exec(InitMetadata); err != nil {
		return err
	}

	var version string
	err := c.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return err
	}
	if version != fmt.Sprintf("%d", SchemaVersion) {
		log.Printf("cache: schema version %s != %d, resetting", version, SchemaVersion)
		if _, err := c.db.Exec("DROP TABLE IF EXISTS sub_chats; DROP TABLE IF EXISTS conversations; DROP TABLE IF EXISTS metadata"); err != nil {
			return err
		}
		if _, err := c.db.Exec(Schema); err != nil {
			return err
		}
		if _, err := c.db.Exec(InitMetadata); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// =============================================================================
// WRITE SIDE (BEST-EFFORT)
// =============================================================================

// SaveConversation upserts a conversation snapshot. Errors are logged,
// never returned: a broken cache must not break the session.
func (c *Cache) SaveConversation(conv model.Conversation) {
	if c.db == nil {
		return
	}
	if err := c.save(conv); err != nil {
		log.Printf("cache: save failed for %s: %v", conv.ID, err)
	}
}

func (c *Cache) save(conv model.Conversation) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO conversations
			(id, backend_id, title, created_at, updated_at, active_sub_chat,
			 accepted_model_message_id, accepted_code_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			backend_id = excluded.backend_id,
			title = excluded.title,
			updated_at = excluded.updated_at,
			active_sub_chat = excluded.active_sub_chat,
			accepted_model_message_id = excluded.accepted_model_message_id,
			accepted_code_message_id = excluded.accepted_code_message_id
	`, conv.ID, conv.BackendID, conv.Title,
		conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(), conv.ActiveSubChat,
		conv.AcceptedModelMessageID, conv.AcceptedCodeMessageID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM sub_chats WHERE conversation_id = ?", conv.ID); err != nil {
		return err
	}
	for i, sc := range conv.SubChats {
		msgs, err := json.Marshal(sc.Messages)
		if err != nil {
			return err
		}
		var accepted any
		if sc.AcceptedMessage != nil {
			raw, err := json.Marshal(sc.AcceptedMessage)
			if err != nil {
				return err
			}
			accepted = string(raw)
		}
		_, err = tx.Exec(`
			INSERT INTO sub_chats (conversation_id, agent_type, position, messages, accepted_message)
			VALUES (?, ?, ?, ?, ?)
		`, conv.ID, sc.AgentType.String(), i, string(msgs), accepted)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return c.prune()
}

// DeleteConversation removes a conversation from the cache.
func (c *Cache) DeleteConversation(id string) {
	if c.db == nil {
		return
	}
	if _, err := c.db.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		log.Printf("cache: delete failed for %s: %v", id, err)
	}
}

// prune drops the oldest conversations beyond the retention bound.
func (c *Cache) prune() error {
	if c.max <= 0 {
		return nil
	}
	_, err := c.db.Exec(`
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations
			ORDER BY updated_at DESC
			LIMIT -1 OFFSET ?
		)
	`, c.max)
	return err
}

// =============================================================================
// READ SIDE
// =============================================================================

// Conversations loads every cached conversation, most recently updated
// first.
func (c *Cache) Conversations() ([]model.Conversation, error) {
	if c.db == nil {
		return nil, ErrClosed
	}

	rows, err := c.db.Query(`
		SELECT id, backend_id, title, created_at, updated_at, active_sub_chat,
		       accepted_model_message_id, accepted_code_message_id
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		var created, updated int64
		if err := rows.Scan(&conv.ID, &conv.BackendID, &conv.Title, &created, &updated,
			&conv.ActiveSubChat, &conv.AcceptedModelMessageID, &conv.AcceptedCodeMessageID); err != nil {
			return nil, err
		}
		conv.CreatedAt = time.Unix(created, 0)
		conv.UpdatedAt = time.Unix(updated, 0)
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		subChats, err := c.loadSubChats(convs[i].ID)
		if err != nil {
			return nil, err
		}
		if len(subChats) == 0 {
			subChats = []model.SubChat{model.NewSubChat(model.AgentModeler)}
		}
		convs[i].SubChats = subChats
		if convs[i].ActiveSubChat >= len(subChats) {
			convs[i].ActiveSubChat = len(subChats) - 1
		}
	}
	return convs, nil
}

func (c *Cache) loadSubChats(conversationID string) ([]model.SubChat, error) {
	rows, err := c.db.Query(`
		SELECT agent_type, position, messages, accepted_message
		FROM sub_chats WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type positioned struct {
		pos int
		sc  model.SubChat
	}
	var items []positioned
	for rows.Next() {
		var agent string
		var pos int
		var msgs string
		var accepted sql.NullString
		if err := rows.Scan(&agent, &pos, &msgs, &accepted); err != nil {
			return nil, err
		}

		sc := model.NewSubChat(model.AgentType(agent))
		if err := json.Unmarshal([]byte(msgs), &sc.Messages); err != nil {
			return nil, err
		}
		if accepted.Valid {
			var msg model.Message
			if err := json.Unmarshal([]byte(accepted.String), &msg); err != nil {
				return nil, err
			}
			sc.AcceptedMessage = &msg
		}
		items = append(items, positioned{pos: pos, sc: sc})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })
	subChats := make([]model.SubChat, len(items))
	for i, it := range items {
		subChats[i] = it.sc
	}
	return subChats, nil
}

// Metas returns lightweight listings for the sidebar without loading
// message bodies.
func (c *Cache) Metas() ([]model.Meta, error) {
	if c.db == nil {
		return nil, ErrClosed
	}
	rows, err := c.db.Query(`
		SELECT id, backend_id, title, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached listings: %w", err)
	}
	defer rows.Close()

	var metas []model.Meta
	for rows.Next() {
		var meta model.Meta
		var created, updated int64
		if err := rows.Scan(&meta.ID, &meta.BackendID, &meta.Title, &created, &updated); err != nil {
			return nil, err
		}
		meta.CreatedAt = time.Unix(created, 0)
		meta.UpdatedAt = time.Unix(updated, 0)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}
