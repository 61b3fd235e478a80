// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/ui/components"
	"github.com/jeranaias/optiq-tui/internal/ui/styles"
	"github.com/jeranaias/optiq-tui/internal/util"
)

// =============================================================================
// LAYOUT CONSTANTS
// =============================================================================

// sidebarWidth is the fixed width of the conversation list pane.
const sidebarWidth = 28

// sidebarTitleWidth bounds conversation titles in the sidebar, in
// terminal columns.
const sidebarTitleWidth = 22

// =============================================================================
// VIEW
// =============================================================================

// View renders the full screen.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting optiq..."
	}

	header := m.renderHeader()
	tabs := m.renderStageTabs()

	var main string
	if m.theme.GetLayoutMode() == styles.LayoutNormal {
		main = lipgloss.JoinHorizontal(
			lipgloss.Top,
			m.renderSidebar(),
			m.viewport.View(),
		)
	} else {
		main = m.viewport.View()
	}

	sections := []string{header, tabs, main}

	if toasts := m.toasts.Active(); len(toasts) > 0 {
		sections = append(sections, components.RenderToastStack(toasts, m.width, 0))
	}

	sections = append(sections, m.renderInput(), m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader() string {
	title := "new conversation"
	if conv, ok := m.store.Active(); ok {
		title = conv.Title
	}
	left := m.theme.HeaderTitle.Render("optiq " + m.version)
	right := m.theme.HeaderSubtitle.Render(util.TruncateRunes(title, 60))
	return m.theme.Header.Render(left + "  " + right)
}

// renderStageTabs draws the pipeline position indicator.
func (m *Model) renderStageTabs() string {
	conv, hasConv := m.store.Active()

	tabs := make([]string, 0, len(model.Pipeline))
	for i, stage := range model.Pipeline {
		label := stage.DisplayName()
		switch {
		case hasConv && i == conv.ActiveSubChat:
			tabs = append(tabs, m.theme.StageTabActive.
				Background(styles.StageColor(i)).
				Render(label))
		case hasConv && i < len(conv.SubChats) && conv.SubChats[i].IsAccepted():
			tabs = append(tabs, m.theme.StageTabAccepted.Render("✓ "+label))
		default:
			tabs = append(tabs, m.theme.StageTab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) renderSidebar() string {
	convs := m.store.All()
	activeID := m.store.ActiveID()

	var b strings.Builder
	b.WriteString(m.theme.SidebarTitle.Render("Sessions"))
	b.WriteString("\n\n")

	if len(convs) == 0 {
		b.WriteString(m.theme.SessionMeta.Render("none yet"))
	}

	for i, conv := range convs {
		title := util.TruncateWidth(conv.Title, sidebarTitleWidth)
		if title == "" {
			title = "(untitled)"
		}

		marker := "  "
		if conv.ID == activeID {
			marker = "* "
		}

		line := marker + title
		if m.focus == FocusSidebar && i == m.sidebarIndex {
			b.WriteString(m.theme.SessionItemSelected.Render(line))
		} else {
			b.WriteString(m.theme.SessionItem.Render(line))
		}
		b.WriteString("\n")
	}

	if m.focus == FocusSidebar {
		b.WriteString("\n")
		b.WriteString(m.theme.SessionMeta.Render("Enter open  d delete"))
	}

	return m.theme.Sidebar.
		Width(sidebarWidth - 2).
		Height(m.viewport.Height).
		Render(b.String())
}

func (m *Model) renderInput() string {
	if m.selecting {
		return m.theme.InputContainer.
			Width(m.width - 2).
			Render(m.theme.ThinkingText.Render("Resuming conversation..."))
	}
	return m.theme.InputContainer.
		Width(m.width - 2).
		Render(m.input.View())
}

func (m *Model) renderStatusBar() string {
	if m.showHelp {
		return m.renderFullHelp()
	}

	parts := make([]string, 0, 8)
	parts = append(parts, m.theme.StatusBusy.Render(m.statusLine()))
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts,
			m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	return m.theme.StatusBar.Render(strings.Join(parts, "  "))
}

func (m *Model) renderFullHelp() string {
	var lines []string
	for _, group := range m.keys.FullHelp() {
		parts := make([]string, 0, len(group))
		for _, b := range group {
			h := b.Help()
			parts = append(parts,
				m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
		}
		lines = append(lines, strings.Join(parts, "  "))
	}
	return m.theme.StatusBar.Render(strings.Join(lines, "\n"))
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// refreshTranscript rebuilds the viewport content from the active
// conversation's visible stage.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}

	conv, ok := m.store.Active()
	if !ok {
		m.viewport.SetContent(m.renderEmptyState())
		return
	}

	sub := conv.Active()
	var b strings.Builder
	for _, msg := range sub.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}

	if conv.IsLoading {
		b.WriteString(m.theme.ThinkingText.Render(
			sub.AgentType.DisplayName() + " is working..."))
		b.WriteString("\n")
	}

	m.viewport.SetContent(b.String())
}

func (m *Model) renderEmptyState() string {
	text := "Describe a decision problem to start the pipeline.\n\n" +
		"The modeler drafts a mathematical model, the coder turns it\n" +
		"into Python, and the visualizer runs it and reports results."
	return m.theme.EmptyState.
		Width(m.viewport.Width).
		Render(text)
}

// renderMessage styles one transcript turn.
func (m *Model) renderMessage(msg model.Message) string {
	width := m.viewport.Width - 8
	if width < 20 {
		width = 20
	}

	switch {
	case msg.Role == model.RoleUser:
		bubble := m.theme.UserBubble.MaxWidth(width).Render(msg.Content)
		return m.theme.BubbleMeta.Render("you") + "\n" + bubble + "\n"

	case msg.IsRetryable():
		body := msg.Content + "\n\n" +
			m.theme.BubbleMeta.Render("ctrl+r to retry")
		return m.theme.ErrorBubble.MaxWidth(width).Render(body) + "\n"

	default:
		return m.renderAssistant(msg, width)
	}
}

func (m *Model) renderAssistant(msg model.Message, width int) string {
	var body string
	if msg.Type == model.TypeCode {
		// Coder results get the dedicated highlighter with line numbers
		// instead of glamour's plainer code rendering.
		body = components.ParseCodeBlocks(msg.Content, width)
	} else {
		body = strings.TrimSpace(m.renderMarkdown(msg.Content))
	}

	if len(msg.GeneratedFiles) > 0 {
		body = components.ReplaceFileMarkers(body, msg.GeneratedFiles, m.theme)
		body += "\n\n" + components.RenderFileList(msg.GeneratedFiles, m.theme)
	}

	if msg.CanAccept {
		body += "\n\n" + m.theme.AcceptHint.Render("ctrl+a to accept this draft")
	}

	meta := m.theme.BubbleMeta.Render(msg.AgentType.DisplayName())
	return meta + "\n" + m.theme.AssistantBubble.MaxWidth(width).Render(body) + "\n"
}
