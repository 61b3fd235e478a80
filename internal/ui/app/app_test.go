// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/optiq-tui/internal/api"
	"github.com/jeranaias/optiq-tui/internal/config"
	"github.com/jeranaias/optiq-tui/internal/controller"
	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/store"
)

// newTestModel builds a model over an unreachable backend. Tests only
// exercise rendering and local state, never the network.
func newTestModel(t *testing.T) *Model {
	t.Helper()

	cfg := config.Default()
	st := store.New()
	client := api.NewClient("http://127.0.0.1:1", func() string { return "test-token" })
	events := make(chan controller.Event, 8)
	ctrl := controller.New(st, client, controller.WithNotify(func(ev controller.Event) {
		select {
		case events <- ev:
		default:
		}
	}))
	t.Cleanup(ctrl.Close)

	m := New(cfg, st, ctrl, events, "v1.0.0-test")
	m.resize(100, 30)
	return m
}

func seedConversation(st *store.Store, title string) model.Conversation {
	conv := model.NewConversation(title)
	st.Add(conv)
	st.SetActive(conv.ID)
	return conv
}

func TestViewBeforeReady(t *testing.T) {
	cfg := config.Default()
	st := store.New()
	client := api.NewClient("http://127.0.0.1:1", nil)
	ctrl := controller.New(st, client)
	defer ctrl.Close()

	m := New(cfg, st, ctrl, make(chan controller.Event), "dev")
	if view := m.View(); !strings.Contains(view, "Starting") {
		t.Errorf("pre-resize view should show startup text, got %q", view)
	}
}

func TestViewShowsStageTabs(t *testing.T) {
	m := newTestModel(t)
	seedConversation(m.store, "optimize factory output")

	tabs := m.renderStageTabs()
	for _, stage := range model.Pipeline {
		if !strings.Contains(tabs, stage.DisplayName()) {
			t.Errorf("stage tabs missing %q", stage.DisplayName())
		}
	}
}

func TestHeaderShowsTitleAndVersion(t *testing.T) {
	m := newTestModel(t)
	seedConversation(m.store, "fleet routing problem")

	header := m.renderHeader()
	if !strings.Contains(header, "v1.0.0-test") {
		t.Error("header should show the version")
	}
	if !strings.Contains(header, "fleet routing problem") {
		t.Error("header should show the conversation title")
	}
}

func TestEmptyStateWithoutConversation(t *testing.T) {
	m := newTestModel(t)
	m.refreshTranscript()

	if !strings.Contains(m.viewport.View(), "decision problem") {
		t.Error("empty transcript should show the onboarding hint")
	}
}

func TestRenderMessageUserTurn(t *testing.T) {
	m := newTestModel(t)
	msg := model.NewUserMessage(model.AgentModeler, "minimize shipping cost")

	out := m.renderMessage(msg)
	if !strings.Contains(out, "you") {
		t.Error("user turn should carry the you meta line")
	}
	if !strings.Contains(out, "minimize shipping cost") {
		t.Error("user turn should contain the content")
	}
}

func TestRenderMessageRetryable(t *testing.T) {
	m := newTestModel(t)
	msg := model.NewRetryMessage(model.AgentModeler, "job failed", model.Retry{
		Mode:      model.RetrySend,
		AgentType: model.AgentModeler,
		Prompt:    "hello",
	})

	out := m.renderMessage(msg)
	if !strings.Contains(out, "retry") {
		t.Error("retryable turn should show the retry hint")
	}
}

func TestRenderMessageAcceptHint(t *testing.T) {
	m := newTestModel(t)
	msg := model.NewAssistantMessage(model.AgentModeler, "a linear program", "be-1")

	out := m.renderAssistant(msg, 60)
	if !strings.Contains(out, "accept") {
		t.Error("accept-eligible draft should show the accept hint")
	}
}

func TestAcceptDraftWithoutConversation(t *testing.T) {
	m := newTestModel(t)
	m.acceptDraft()

	if !m.toasts.HasToasts() {
		t.Error("accepting with no conversation should raise a toast")
	}
}

func TestRetryWithNothingFailed(t *testing.T) {
	m := newTestModel(t)
	seedConversation(m.store, "anything")
	m.retryFailed()

	if !m.toasts.HasToasts() {
		t.Error("retry with no failed job should raise a toast")
	}
}

func TestSubmitEmptyInputIsNoop(t *testing.T) {
	m := newTestModel(t)
	m.input.SetValue("   ")

	if cmd := m.submitInput(); cmd != nil {
		t.Error("whitespace-only input should not produce a command")
	}
	if m.toasts.HasToasts() {
		t.Error("whitespace-only input should not toast")
	}
}

func TestNavigateStageClamps(t *testing.T) {
	m := newTestModel(t)
	conv := seedConversation(m.store, "clamp test")

	m.navigateStage(-1)
	got, _ := m.store.Get(conv.ID)
	if got.ActiveSubChat != 0 {
		t.Error("navigating before the first stage should be ignored")
	}

	m.navigateStage(5)
	got, _ = m.store.Get(conv.ID)
	if got.ActiveSubChat != 0 {
		t.Error("navigating past the last existing stage should be ignored")
	}
}

func TestSidebarNavigationClamps(t *testing.T) {
	m := newTestModel(t)
	seedConversation(m.store, "one")
	seedConversation(m.store, "two")
	m.focus = FocusSidebar

	m.handleSidebarKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if m.sidebarIndex != 0 {
		t.Error("up at the top should stay at 0")
	}

	m.handleSidebarKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if m.sidebarIndex != 1 {
		t.Errorf("down should move to 1, got %d", m.sidebarIndex)
	}
	m.handleSidebarKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if m.sidebarIndex != 1 {
		t.Error("down at the bottom should stay at the last entry")
	}
}

func TestControllerNoticeBecomesToast(t *testing.T) {
	m := newTestModel(t)
	m.handleEvent(controller.Event{Kind: controller.EventNotice, Notice: "backend unavailable"})

	toasts := m.toasts.Active()
	if len(toasts) != 1 || !strings.Contains(toasts[0].Message, "backend unavailable") {
		t.Fatalf("notice should surface as a toast, got %v", toasts)
	}
}

func TestFocusToggle(t *testing.T) {
	m := newTestModel(t)
	seedConversation(m.store, "focus test")

	m.handleKey(tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != FocusSidebar {
		t.Error("tab should move focus to the sidebar")
	}
	m.handleKey(tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != FocusInput {
		t.Error("tab should move focus back to the input")
	}
}
