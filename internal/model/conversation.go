// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TitleMaxRunes is the maximum length of an auto-derived conversation title.
const TitleMaxRunes = 50

// =============================================================================
// SUB-CHAT TYPE
// =============================================================================

// SubChat is the per-stage message thread inside a conversation.
type SubChat struct {
	AgentType AgentType `json:"agentType"`
	Messages  []Message `json:"messages"`

	// AcceptedMessage is set exactly when the user has advanced past this
	// stage; the next stage's sub-chat exists if and only if it is set
	// (final stage excepted).
	AcceptedMessage *Message `json:"acceptedMessage,omitempty"`
}

// NewSubChat creates an empty sub-chat for a stage.
func NewSubChat(agent AgentType) SubChat {
	return SubChat{AgentType: agent, Messages: []Message{}}
}

// LastMessage returns the most recent message, or a zero Message and false
// when the sub-chat is empty.
func (s SubChat) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastAssistantMessage returns the most recent assistant message.
func (s SubChat) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// IsAccepted reports whether the stage has been advanced past.
func (s SubChat) IsAccepted() bool {
	return s.AcceptedMessage != nil
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the full pipeline state for one problem.
type Conversation struct {
	// ID is client-local. BackendID is assigned by the server once the
	// first job has been submitted and is authoritative from then on;
	// the client-local id never crosses the wire.
	ID        string `json:"id"`
	BackendID string `json:"backendId,omitempty"`

	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// SubChats in pipeline stage order. Never empty once the conversation
	// has been materialized for display.
	SubChats []SubChat `json:"subChats"`

	// ActiveSubChat indexes SubChats and is always in range.
	ActiveSubChat int `json:"activeSubChat"`

	// Accepted-message back-references used as generation context for
	// later stages.
	AcceptedModelMessageID string `json:"acceptedModelMessageId,omitempty"`
	AcceptedCodeMessageID  string `json:"acceptedCodeMessageId,omitempty"`

	// IsLoading is true while a job is outstanding for this conversation.
	IsLoading bool `json:"isLoading"`
}

// NewConversation creates a conversation seeded with an empty modeler
// sub-chat and a title derived from the first message.
func NewConversation(firstMessage string) Conversation {
	now := time.Now()
	return Conversation{
		ID:        uuid.New().String(),
		Title:     DeriveTitle(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
		SubChats:  []SubChat{NewSubChat(AgentModeler)},
	}
}

// DeriveTitle builds a conversation title from the first user message:
// first 50 runes, ellipsis appended if truncated, newlines flattened.
func DeriveTitle(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	content = strings.ReplaceAll(content, "\r", "")
	runes := []rune(content)
	if len(runes) > TitleMaxRunes {
		return string(runes[:TitleMaxRunes]) + "..."
	}
	if content == "" {
		return "New Conversation"
	}
	return content
}

// WireID returns the id to send to the backend: the backend-assigned id
// when known, otherwise "" (a new server-side conversation is created).
func (c Conversation) WireID() string {
	return c.BackendID
}

// Active returns the currently active sub-chat.
func (c Conversation) Active() SubChat {
	return c.SubChats[c.ActiveSubChat]
}

// SubChatFor returns the sub-chat for a stage and whether it exists.
func (c Conversation) SubChatFor(agent AgentType) (SubChat, bool) {
	for _, sc := range c.SubChats {
		if sc.AgentType == agent {
			return sc, true
		}
	}
	return SubChat{}, false
}

// HasMessages reports whether any stage holds at least one message.
func (c Conversation) HasMessages() bool {
	for _, sc := range c.SubChats {
		if len(sc.Messages) > 0 {
			return true
		}
	}
	return false
}

// LastStageWithMessages returns the index of the last stage holding any
// messages, or 0 when every stage is empty.
func (c Conversation) LastStageWithMessages() int {
	last := 0
	for i, sc := range c.SubChats {
		if len(sc.Messages) > 0 {
			last = i
		}
	}
	return last
}

// Clone returns a deep copy. Store updates operate on clones so every
// reader observes a consistent snapshot.
func (c Conversation) Clone() Conversation {
	clone := c
	clone.SubChats = make([]SubChat, len(c.SubChats))
	for i, sc := range c.SubChats {
		scCopy := sc
		scCopy.Messages = make([]Message, len(sc.Messages))
		copy(scCopy.Messages, sc.Messages)
		if sc.AcceptedMessage != nil {
			accepted := *sc.AcceptedMessage
			scCopy.AcceptedMessage = &accepted
		}
		clone.SubChats[i] = scCopy
	}
	return clone
}

// Meta holds lightweight conversation metadata for listing.
type Meta struct {
	ID        string    `json:"id"`
	BackendID string    `json:"backendId,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetMeta returns metadata about the conversation.
func (c Conversation) GetMeta() Meta {
	return Meta{
		ID:        c.ID,
		BackendID: c.BackendID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
