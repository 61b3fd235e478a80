// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jeranaias/optiq-tui/internal/model"
)

// =============================================================================
// CONVERSATION ENDPOINTS
// =============================================================================

// ConversationRecord is one entry in the backend conversation listing.
type ConversationRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryMessage is one persisted message in a stage's history.
type HistoryMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is the persisted message list for one conversation stage.
type History struct {
	ConversationID string           `json:"conversationId"`
	AgentType      string           `json:"agentType"`
	Messages       []HistoryMessage `json:"messages"`
}

// ConversationStatus reports whether the backend still has a job running
// for a conversation. The backend is the durable source of truth here;
// local loading flags must be re-verified against it.
type ConversationStatus struct {
	ConversationID string `json:"conversationId"`
	IsLoading      bool   `json:"isLoading"`
	HadError       bool   `json:"hadError"`
	JobID          string `json:"jobId,omitempty"`
}

// ListConversations fetches the conversation summaries for the current
// account.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationRecord, error) {
	var records []ConversationRecord
	if err := c.getJSON(ctx, "/conversations", &records); err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	return records, nil
}

// GetHistory fetches the persisted messages for one stage of a
// conversation.
func (c *Client) GetHistory(ctx context.Context, conversationID string, agent model.AgentType) (*History, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/history/" + url.PathEscape(agent.String())
	var history History
	if err := c.getJSON(ctx, path, &history); err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return &history, nil
}

// GetConversationStatus fetches the backend's view of a conversation's
// in-flight job state.
func (c *Client) GetConversationStatus(ctx context.Context, conversationID string) (*ConversationStatus, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/status"
	var status ConversationStatus
	if err := c.getJSON(ctx, path, &status); err != nil {
		return nil, fmt.Errorf("failed to fetch conversation status: %w", err)
	}
	return &status, nil
}

// DeleteConversation deletes a conversation server-side.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	endpoint := c.baseURL + "/conversations/" + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	c.logRequest(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	return nil
}

// getJSON performs a GET against path and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}
	return decodeJSON(resp, v)
}
