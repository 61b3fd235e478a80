// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the in-memory conversation collection: the single
// source of truth for the current session.
//
// Every mutation is a copy-on-write update keyed by conversation id
// (map over the collection, replace the matching element). Mutations are
// never applied by index, so async job completions arriving out of order
// still merge correctly as long as the conversation id still exists.
// Readers always receive deep-copied snapshots.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/optiq-tui/internal/model"
)

// Store is the thread-safe conversation collection.
type Store struct {
	mu            sync.RWMutex
	conversations []model.Conversation
	activeID      string
	creatingNew   bool
}

// New creates an empty store flagged as "creating new" (an empty
// pipeline is shown before anything is persisted).
func New() *Store {
	return &Store{creatingNew: true}
}

// =============================================================================
// READ SIDE
// =============================================================================

// Get returns a snapshot of one conversation.
func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv.Clone(), true
		}
	}
	return model.Conversation{}, false
}

// All returns snapshots of every conversation, most recently updated
// first.
func (s *Store) All() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		out[i] = conv.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// ActiveID returns the active conversation id, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns a snapshot of the active conversation.
func (s *Store) Active() (model.Conversation, bool) {
	s.mu.RLock()
	id := s.activeID
	s.mu.RUnlock()
	if id == "" {
		return model.Conversation{}, false
	}
	return s.Get(id)
}

// CreatingNew reports whether the session shows an empty, not yet
// persisted pipeline.
func (s *Store) CreatingNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creatingNew
}

// =============================================================================
// COLLECTION MUTATION
// =============================================================================

// Add inserts a conversation at the front of the collection.
func (s *Store) Add(conv model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]model.Conversation{conv.Clone()}, s.conversations...)
}

// Remove deletes a conversation. If it was active, the active pointer is
// cleared and the session returns to "creating new".
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.conversations[:0]
	for _, conv := range s.conversations {
		if conv.ID != id {
			kept = append(kept, conv)
		}
	}
	s.conversations = kept
	if s.activeID == id {
		s.activeID = ""
		s.creatingNew = true
	}
}

// SetActive makes a conversation active and clears the creating-new flag.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
	s.creatingNew = false
}

// ClearActive drops the active pointer and flags "creating new".
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
	s.creatingNew = true
}

// Hydrate seeds the store from backend conversation summaries. Each
// conversation gets a single empty modeler sub-chat; messages are loaded
// lazily on selection. The session is marked "creating new" when no
// conversation was previously active.
func (s *Store) Hydrate(metas []model.Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.conversations))
	for _, conv := range s.conversations {
		existing[conv.BackendID] = true
	}

	for _, meta := range metas {
		if existing[meta.BackendID] {
			continue
		}
		conv := model.Conversation{
			ID:        meta.ID,
			BackendID: meta.BackendID,
			Title:     meta.Title,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
			SubChats:  []model.SubChat{model.NewSubChat(model.AgentModeler)},
		}
		s.conversations = append(s.conversations, conv)
	}

	if s.activeID == "" {
		s.creatingNew = true
	}
}

// =============================================================================
// PER-CONVERSATION MUTATION
// =============================================================================

// Update applies fn to the conversation with the given id using a
// copy-on-write replace. It is a no-op (returning false) when the id no
// longer exists, which makes late async callbacks self-correcting.
func (s *Store) Update(id string, fn func(model.Conversation) model.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, conv := range s.conversations {
		if conv.ID == id {
			next := fn(conv.Clone())
			next.UpdatedAt = time.Now()
			s.conversations[i] = next
			return true
		}
	}
	return false
}

// AppendMessage appends a message to one stage's sub-chat.
func (s *Store) AppendMessage(id string, agent model.AgentType, msg model.Message) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		for i := range conv.SubChats {
			if conv.SubChats[i].AgentType == agent {
				conv.SubChats[i].Messages = append(conv.SubChats[i].Messages, msg)
				break
			}
		}
		return conv
	})
}

// ReplaceMessages replaces one stage's message list wholesale. Used by
// auto-generate, which starts a stage fresh rather than accumulating a
// dialogue.
func (s *Store) ReplaceMessages(id string, agent model.AgentType, msgs []model.Message) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		for i := range conv.SubChats {
			if conv.SubChats[i].AgentType == agent {
				conv.SubChats[i].Messages = append([]model.Message{}, msgs...)
				break
			}
		}
		return conv
	})
}

// DropRetryMessagesAndAppend filters out every message carrying a retry
// descriptor from a stage, then appends msg. A stale "Retry" bubble must
// never remain visible once its retry has succeeded.
func (s *Store) DropRetryMessagesAndAppend(id string, agent model.AgentType, msg model.Message) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		for i := range conv.SubChats {
			if conv.SubChats[i].AgentType != agent {
				continue
			}
			kept := conv.SubChats[i].Messages[:0]
			for _, m := range conv.SubChats[i].Messages {
				if !m.IsRetryable() {
					kept = append(kept, m)
				}
			}
			conv.SubChats[i].Messages = append(kept, msg)
			break
		}
		return conv
	})
}

// SetLoading sets the conversation's loading flag.
func (s *Store) SetLoading(id string, loading bool) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		conv.IsLoading = loading
		return conv
	})
}

// SetBackendID persists a newly assigned backend conversation id.
func (s *Store) SetBackendID(id, backendID string) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		if conv.BackendID == "" {
			conv.BackendID = backendID
		}
		return conv
	})
}

// Accept records an accepted message on its stage, stores the
// stage-specific accepted id on the conversation, and appends and
// activates the next stage's sub-chat when one is due. Sub-chats are
// appended only here; they are never removed.
func (s *Store) Accept(id string, agent model.AgentType, msg model.Message) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		for i := range conv.SubChats {
			if conv.SubChats[i].AgentType != agent {
				continue
			}
			accepted := msg
			conv.SubChats[i].AcceptedMessage = &accepted
			break
		}

		switch agent {
		case model.AgentModeler:
			conv.AcceptedModelMessageID = msg.ID
		case model.AgentCoder:
			conv.AcceptedCodeMessageID = msg.ID
		}

		next := agent.Next()
		if next == "" {
			return conv
		}
		for i := range conv.SubChats {
			if conv.SubChats[i].AgentType == next {
				conv.ActiveSubChat = i
				return conv
			}
		}
		conv.SubChats = append(conv.SubChats, model.NewSubChat(next))
		conv.ActiveSubChat = len(conv.SubChats) - 1
		return conv
	})
}

// SetActiveSubChat navigates to a stage by index. Out-of-range indexes
// are ignored; users may look back at any prior stage regardless of
// acceptance state.
func (s *Store) SetActiveSubChat(id string, index int) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		if index >= 0 && index < len(conv.SubChats) {
			conv.ActiveSubChat = index
		}
		return conv
	})
}

// EnsureSubChats guarantees sub-chats exist up through stage index n,
// appending empty stages in pipeline order. Used by history hydration.
func (s *Store) EnsureSubChats(id string, throughIndex int) bool {
	return s.Update(id, func(conv model.Conversation) model.Conversation {
		for i := len(conv.SubChats); i <= throughIndex && i < len(model.Pipeline); i++ {
			conv.SubChats = append(conv.SubChats, model.NewSubChat(model.Pipeline[i]))
		}
		return conv
	})
}
