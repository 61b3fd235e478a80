// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/optiq-tui/internal/controller"
	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/ui/components"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all program messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case components.ToastTickMsg:
		m.toasts.Tick()
		return m, components.ToastTickCmd()

	case ControllerEventMsg:
		return m.handleEvent(msg.Event)

	case RefreshDoneMsg:
		if msg.Err != nil {
			m.toasts.AddWarning("Could not fetch sessions from " + m.cfg.Server.URL)
		}
		m.refreshTranscript()
		return m, nil

	case SelectDoneMsg:
		m.selecting = false
		if msg.Err != nil {
			m.toasts.AddError(components.TrimToastMessage(msg.Err.Error()))
		} else {
			m.focus = FocusInput
			m.input.Focus()
		}
		m.refreshTranscript()
		m.viewport.GotoBottom()
		return m, nil

	case DeleteDoneMsg:
		m.toasts.AddStatus("Conversation deleted")
		m.clampSidebarIndex()
		m.refreshTranscript()
		return m, nil
	}

	return m, nil
}

// handleEvent reacts to a controller notification and re-arms the
// event wait.
func (m *Model) handleEvent(ev controller.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case controller.EventNotice:
		m.toasts.AddWarning(ev.Notice)
	case controller.EventStateChanged:
		atBottom := m.viewport.AtBottom()
		m.refreshTranscript()
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
	return m, waitForEvent(m.events)
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.ctrl.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Focus):
		if m.focus == FocusInput {
			m.focus = FocusSidebar
			m.input.Blur()
			m.clampSidebarIndex()
		} else {
			m.focus = FocusInput
			m.input.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keys.NewConv):
		m.ctrl.NewConversation()
		m.focus = FocusInput
		m.input.Focus()
		m.refreshTranscript()
		return m, nil

	case key.Matches(msg, m.keys.PrevStage):
		m.navigateStage(-1)
		return m, nil

	case key.Matches(msg, m.keys.NextStage):
		m.navigateStage(1)
		return m, nil

	case key.Matches(msg, m.keys.Accept):
		m.acceptDraft()
		return m, nil

	case key.Matches(msg, m.keys.Retry):
		m.retryFailed()
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		if conv, ok := m.store.Active(); ok && conv.IsLoading {
			m.ctrl.CancelActive()
			m.toasts.AddStatus("Request cancelled")
			m.refreshTranscript()
		} else if m.focus == FocusInput {
			m.input.Reset()
		}
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	if m.focus == FocusSidebar {
		return m.handleSidebarKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m *Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Submit) {
		return m, m.submitInput()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.sidebarIndex > 0 {
			m.sidebarIndex--
		}
	case "down", "j":
		if m.sidebarIndex < m.store.Len()-1 {
			m.sidebarIndex++
		}
	case "enter":
		convs := m.store.All()
		if m.sidebarIndex < len(convs) && !m.selecting {
			m.selecting = true
			return m, m.selectCmd(convs[m.sidebarIndex].ID)
		}
	case "d":
		convs := m.store.All()
		if m.sidebarIndex < len(convs) {
			return m, m.deleteCmd(convs[m.sidebarIndex].ID)
		}
	}
	return m, nil
}

// =============================================================================
// ACTIONS
// =============================================================================

// submitInput sends the typed message to the active stage.
func (m *Model) submitInput() tea.Cmd {
	content := strings.TrimSpace(m.input.Value())
	if content == "" || m.selecting {
		return nil
	}

	if err := m.ctrl.Send(content, nil); err != nil {
		if errors.Is(err, controller.ErrBusy) {
			m.toasts.AddWarning("A request is already in progress")
		} else {
			m.toasts.AddError(components.TrimToastMessage(err.Error()))
		}
		return nil
	}

	m.input.Reset()
	m.refreshTranscript()
	m.viewport.GotoBottom()
	return nil
}

// acceptDraft accepts the newest accept-eligible draft on the active
// stage.
func (m *Model) acceptDraft() {
	conv, ok := m.store.Active()
	if !ok {
		m.toasts.AddWarning("No conversation to accept in")
		return
	}
	sub := conv.Active()
	msg, ok := sub.LastAssistantMessage()
	if !ok || !msg.CanAccept {
		m.toasts.AddWarning("No draft to accept on this stage")
		return
	}

	if err := m.ctrl.Accept(sub.AgentType, msg); err != nil {
		m.toasts.AddError(components.TrimToastMessage(err.Error()))
		return
	}

	if sub.AgentType == model.AgentVisualizer {
		m.toasts.AddSuccess("Pipeline complete")
	} else {
		m.toasts.AddSuccess(sub.AgentType.DisplayName() + " accepted")
	}
	m.refreshTranscript()
	m.viewport.GotoBottom()
}

// retryFailed reissues the newest failed job on the active stage.
func (m *Model) retryFailed() {
	conv, ok := m.store.Active()
	if !ok {
		return
	}
	sub := conv.Active()
	for i := len(sub.Messages) - 1; i >= 0; i-- {
		if sub.Messages[i].IsRetryable() {
			if err := m.ctrl.Retry(conv.ID, sub.Messages[i]); err != nil {
				m.toasts.AddError(components.TrimToastMessage(err.Error()))
			} else {
				m.refreshTranscript()
			}
			return
		}
	}
	m.toasts.AddWarning("Nothing to retry on this stage")
}

// navigateStage moves the visible stage by delta, clamped to stages
// that exist.
func (m *Model) navigateStage(delta int) {
	conv, ok := m.store.Active()
	if !ok {
		return
	}
	target := conv.ActiveSubChat + delta
	if target < 0 || target >= len(conv.SubChats) {
		return
	}
	m.ctrl.Navigate(target)
	m.refreshTranscript()
	m.viewport.GotoBottom()
}

func (m *Model) clampSidebarIndex() {
	if n := m.store.Len(); m.sidebarIndex >= n && n > 0 {
		m.sidebarIndex = n - 1
	} else if n == 0 {
		m.sidebarIndex = 0
	}
}
