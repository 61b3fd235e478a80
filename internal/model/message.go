// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// MessageType categorizes message content for rendering.
type MessageType string

const (
	TypeText          MessageType = "text"
	TypeCode          MessageType = "code"
	TypeModel         MessageType = "model"
	TypeVisualization MessageType = "visualization"
)

// RetryMode selects how a failed request is reissued.
type RetryMode string

const (
	// RetrySend resubmits the original user prompt.
	RetrySend RetryMode = "send"
	// RetryAuto re-runs an auto-generate with the stored context ids.
	RetryAuto RetryMode = "auto"
)

// Retry captures everything needed to reissue the job that produced an
// error message. The user-visible turn is never re-appended on retry;
// only the job is resubmitted.
type Retry struct {
	Mode                   RetryMode `json:"mode"`
	AgentType              AgentType `json:"agentType"`
	Prompt                 string    `json:"prompt"`
	ConversationID         string    `json:"conversationId,omitempty"`
	AcceptedModelMessageID string    `json:"acceptedModelMessageId,omitempty"`
	AcceptedCodeMessageID  string    `json:"acceptedCodeMessageId,omitempty"`
}

// Action is a suggested UI action attached to a message (e.g. "Retry").
type Action struct {
	Label string `json:"label"`
}

// Message is a single turn in a sub-chat.
type Message struct {
	// Identity. Client-generated, or the backend messageId when the
	// message was derived from a completed job result.
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content. For visualizer results this is the decoded report text;
	// the raw envelope is never stored.
	Content string `json:"content"`

	Type      MessageType `json:"type"`
	AgentType AgentType   `json:"agentType"`

	// CanAccept marks assistant messages eligible to advance the pipeline.
	CanAccept bool `json:"canAccept,omitempty"`

	// Actions are suggested UI affordances.
	Actions []Action `json:"actions,omitempty"`

	// Retry is set on synthesized error messages so the failed request
	// can be reissued without re-entering it.
	Retry *Retry `json:"retry,omitempty"`

	// GeneratedFiles maps filename to base64 payload for visualization
	// outputs. Inline "[FILE: name]" markers in Content refer into it.
	GeneratedFiles map[string]string `json:"generatedFiles,omitempty"`
}

// NewMessage creates a message with a generated ID.
func NewMessage(role Role, agent AgentType, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		AgentType: agent,
		Content:   content,
		Type:      TypeText,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a user message for a stage.
func NewUserMessage(agent AgentType, content string) Message {
	return NewMessage(RoleUser, agent, content)
}

// NewAssistantMessage creates an accept-eligible assistant message from a
// completed job result. When the backend supplied a messageId it becomes
// the message ID so accepted-message references stay stable across
// sessions.
func NewAssistantMessage(agent AgentType, content, backendMessageID string) Message {
	msg := NewMessage(RoleAssistant, agent, content)
	if backendMessageID != "" {
		msg.ID = backendMessageID
	}
	msg.Type = resultType(agent)
	msg.CanAccept = true
	return msg
}

// NewRetryMessage creates the assistant error bubble shown when a job
// fails, carrying the descriptor needed to reissue it.
func NewRetryMessage(agent AgentType, content string, retry Retry) Message {
	msg := NewMessage(RoleAssistant, agent, content)
	msg.Actions = []Action{{Label: "Retry"}}
	msg.Retry = &retry
	return msg
}

// resultType maps a stage to the content type its results carry.
func resultType(agent AgentType) MessageType {
	switch agent {
	case AgentModeler:
		return TypeModel
	case AgentCoder:
		return TypeCode
	case AgentVisualizer:
		return TypeVisualization
	default:
		return TypeText
	}
}

// IsRetryable reports whether the message carries a retry descriptor.
func (m Message) IsRetryable() bool {
	return m.Retry != nil
}

// Preview returns a truncated single-line preview of the content.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
