// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/optiq-tui/internal/model"
)

func openTestCache(t *testing.T, max int) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), max)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleConversation(title string) model.Conversation {
	conv := model.NewConversation(title)
	conv.BackendID = "srv-" + conv.ID[:8]
	conv.SubChats[0].Messages = []model.Message{
		model.NewUserMessage(model.AgentModeler, title),
		model.NewAssistantMessage(model.AgentModeler, "maximize profit", "m1"),
	}
	return conv
}

func TestSaveAndReload(t *testing.T) {
	c := openTestCache(t, 0)
	conv := sampleConversation("fleet sizing")
	accepted := conv.SubChats[0].Messages[1]
	conv.SubChats[0].AcceptedMessage = &accepted
	conv.AcceptedModelMessageID = "m1"
	conv.SubChats = append(conv.SubChats, model.NewSubChat(model.AgentCoder))
	conv.ActiveSubChat = 1

	c.SaveConversation(conv)

	loaded, err := c.Conversations()
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded = %d conversations, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != conv.ID || got.BackendID != conv.BackendID || got.Title != conv.Title {
		t.Errorf("identity mismatch: %+v", got)
	}
	if len(got.SubChats) != 2 {
		t.Fatalf("sub-chats = %d, want 2", len(got.SubChats))
	}
	if got.ActiveSubChat != 1 {
		t.Errorf("active = %d, want 1", got.ActiveSubChat)
	}
	if len(got.SubChats[0].Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(got.SubChats[0].Messages))
	}
	if got.SubChats[0].AcceptedMessage == nil || got.SubChats[0].AcceptedMessage.ID != "m1" {
		t.Error("accepted message did not round-trip")
	}
	if got.AcceptedModelMessageID != "m1" {
		t.Errorf("accepted model id = %q", got.AcceptedModelMessageID)
	}
}

func TestSaveIsUpsert(t *testing.T) {
	c := openTestCache(t, 0)
	conv := sampleConversation("original title")
	c.SaveConversation(conv)

	conv.Title = "renamed"
	conv.UpdatedAt = time.Now().Add(time.Minute)
	c.SaveConversation(conv)

	loaded, err := c.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded = %d, want 1 after upsert", len(loaded))
	}
	if loaded[0].Title != "renamed" {
		t.Errorf("title = %q", loaded[0].Title)
	}
}

func TestDeleteConversation(t *testing.T) {
	c := openTestCache(t, 0)
	conv := sampleConversation("doomed")
	c.SaveConversation(conv)
	c.DeleteConversation(conv.ID)

	loaded, err := c.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded = %d, want 0 after delete", len(loaded))
	}
}

func TestPruneKeepsMostRecent(t *testing.T) {
	c := openTestCache(t, 2)
	base := time.Now()
	for i := 0; i < 4; i++ {
		conv := sampleConversation("conversation")
		conv.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		c.SaveConversation(conv)
	}

	loaded, err := c.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded = %d, want 2 after prune", len(loaded))
	}
	// Most recently updated first.
	if !loaded[0].UpdatedAt.After(loaded[1].UpdatedAt) {
		t.Error("listing should be ordered by recency")
	}
}

func TestMetas(t *testing.T) {
	c := openTestCache(t, 0)
	c.SaveConversation(sampleConversation("alpha"))
	c.SaveConversation(sampleConversation("beta"))

	metas, err := c.Metas()
	if err != nil {
		t.Fatalf("Metas: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("metas = %d, want 2", len(metas))
	}
	for _, m := range metas {
		if m.ID == "" || m.Title == "" {
			t.Errorf("incomplete meta: %+v", m)
		}
	}
}

func TestEmptySubChatsFallBackToModeler(t *testing.T) {
	c := openTestCache(t, 0)
	conv := model.NewConversation("bare")
	conv.SubChats = nil
	c.SaveConversation(conv)

	loaded, err := c.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded = %d, want 1", len(loaded))
	}
	sc := loaded[0].SubChats
	if len(sc) != 1 || sc[0].AgentType != model.AgentModeler {
		t.Errorf("fallback sub-chats = %+v", sc)
	}
}

func TestClosedCacheIsInert(t *testing.T) {
	c := openTestCache(t, 0)
	c.Close()

	// Writes are silently dropped, reads report closure.
	c.SaveConversation(sampleConversation("after close"))
	c.DeleteConversation("whatever")
	if _, err := c.Conversations(); err == nil {
		t.Error("Conversations on a closed cache should error")
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	c, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	conv := sampleConversation("persistent")
	c.SaveConversation(conv)
	c.Close()

	c2, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	loaded, err := c2.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].ID != conv.ID {
		t.Errorf("reopened cache lost data: %+v", loaded)
	}
}
