// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeranaias/optiq-tui/internal/model"
)

func TestListConversations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"1","title":"Factory planning","createdAt":"2025-08-30T10:00:00Z","updatedAt":"2025-08-30T11:00:00Z"},
			{"id":"2","title":"Crew scheduling","createdAt":"2025-08-29T10:00:00Z","updatedAt":"2025-08-29T10:05:00Z"}
		]`))
	}))
	defer server.Close()

	records, err := newTestClient(server.URL).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Title != "Factory planning" {
		t.Errorf("Title = %q", records[0].Title)
	}
}

func TestGetHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/42/history/CODER_AGENT" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversationId":"42","agentType":"CODER_AGENT","messages":[
			{"id":"m1","role":"user","content":"generate"},
			{"id":"m2","role":"assistant","content":"import pulp"}
		]}`))
	}))
	defer server.Close()

	history, err := newTestClient(server.URL).GetHistory(context.Background(), "42", model.AgentCoder)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(history.Messages))
	}
	if history.Messages[1].Role != "assistant" {
		t.Errorf("role = %q", history.Messages[1].Role)
	}
}

func TestGetConversationStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/42/status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversationId":"42","isLoading":true,"hadError":false,"jobId":"job-7"}`))
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).GetConversationStatus(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetConversationStatus failed: %v", err)
	}
	if !status.IsLoading || status.JobID != "job-7" {
		t.Errorf("status = %+v", status)
	}
}

func TestDeleteConversation(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).DeleteConversation(context.Background(), "42"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if method != http.MethodDelete || path != "/conversations/42" {
		t.Errorf("request = %s %s", method, path)
	}
}

func TestDeleteConversation_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).DeleteConversation(context.Background(), "42"); err == nil {
		t.Fatal("expected error for HTTP 403")
	}
}
