// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/optiq-tui/internal/config"
	"github.com/jeranaias/optiq-tui/internal/controller"
	"github.com/jeranaias/optiq-tui/internal/store"
	"github.com/jeranaias/optiq-tui/internal/ui/components"
	"github.com/jeranaias/optiq-tui/internal/ui/styles"
)

// =============================================================================
// FOCUS
// =============================================================================

// Focus identifies which pane receives keyboard input.
type Focus int

const (
	// FocusInput directs keys to the message input line.
	FocusInput Focus = iota
	// FocusSidebar directs keys to the conversation list.
	FocusSidebar
)

// selectTimeout bounds a sidebar resume, which may hydrate three
// stages of history.
const selectTimeout = 15 * time.Second

// refreshTimeout bounds the startup conversation listing fetch.
const refreshTimeout = 10 * time.Second

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the optiq TUI.
type Model struct {
	cfg     *config.Config
	store   *store.Store
	ctrl    *controller.Controller
	events  <-chan controller.Event
	version string

	theme  *styles.Theme
	keys   KeyMap
	toasts *components.ToastManager

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	// renderer is rebuilt on resize so word wrap tracks the viewport.
	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool

	focus        Focus
	sidebarIndex int
	showHelp     bool

	// selecting marks a sidebar resume in flight; input is held until
	// it settles.
	selecting bool

	quitting bool
}

// New creates the TUI model. events is the channel the controller's
// notify callback writes into.
func New(cfg *config.Config, st *store.Store, ctrl *controller.Controller, events <-chan controller.Event, version string) *Model {
	theme := styles.NewTheme(cfg.UI.Theme)

	input := textinput.New()
	input.Placeholder = "Describe a decision problem..."
	input.Prompt = "> "
	input.PromptStyle = theme.InputPrompt
	input.PlaceholderStyle = theme.InputPlaceholder
	input.CharLimit = 0
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = theme.Spinner

	return &Model{
		cfg:     cfg,
		store:   st,
		ctrl:    ctrl,
		events:  events,
		version: version,
		theme:   theme,
		keys:    DefaultKeyMap(),
		toasts:  components.NewToastManager(),
		input:   input,
		spin:    spin,
		focus:   FocusInput,
	}
}

// Init starts the background commands.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spin.Tick,
		components.ToastTickCmd(),
		waitForEvent(m.events),
		m.refreshCmd(),
	)
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForEvent blocks on the controller event channel and delivers the
// next event as a program message. Reissued after every delivery.
func waitForEvent(ch <-chan controller.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return ControllerEventMsg{Event: ev}
	}
}

// refreshCmd fetches the remote conversation listing.
func (m *Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		return RefreshDoneMsg{Err: m.ctrl.Refresh(ctx)}
	}
}

// selectCmd resumes a conversation from the sidebar.
func (m *Model) selectCmd(conversationID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), selectTimeout)
		defer cancel()
		err := m.ctrl.Select(ctx, conversationID)
		return SelectDoneMsg{ConversationID: conversationID, Err: err}
	}
}

// deleteCmd deletes a conversation locally and remotely.
func (m *Model) deleteCmd(conversationID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		m.ctrl.Delete(ctx, conversationID)
		return DeleteDoneMsg{ConversationID: conversationID}
	}
}

// =============================================================================
// LAYOUT
// =============================================================================

// Fixed chrome heights: header, stage tabs, input box, status bar.
const chromeHeight = 7

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.theme.SetSize(width, height)

	contentWidth := width
	if m.theme.GetLayoutMode() == styles.LayoutNormal {
		contentWidth = width - sidebarWidth
	}

	vpHeight := height - chromeHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(contentWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = contentWidth
		m.viewport.Height = vpHeight
	}

	wrap := contentWidth - 4
	if wrap < 20 {
		wrap = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err == nil {
		m.renderer = renderer
	}

	m.input.Width = contentWidth - 6
	m.refreshTranscript()
}

// renderMarkdown renders assistant text, falling back to the raw text
// when the renderer is unavailable.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}

// statusLine summarizes the active conversation for the status bar.
func (m *Model) statusLine() string {
	conv, ok := m.store.Active()
	if !ok {
		return "no conversation"
	}
	stage := conv.Active().AgentType
	if conv.IsLoading {
		return fmt.Sprintf("%s %s working...", m.spin.View(), stage.DisplayName())
	}
	return stage.DisplayName()
}
