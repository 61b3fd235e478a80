// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive pipeline REPL for the optiq CLI.
//
// Handles "optiq chat": a liner-based loop that walks a conversation
// through the modeler, coder, and visualizer stages. Plain input is
// sent to the current stage; slash commands accept drafts, retry
// failures, switch stages, and resume earlier conversations.
//
// Interactive Commands (during chat):
//
//	/accept             Accept the current draft and advance the pipeline
//	/retry              Reissue the last failed request
//	/stage N            View pipeline stage N (1-3)
//	/files [DIR]        List or save the report's generated files
//	/new                Start a fresh conversation
//	/list               List conversations
//	/open N             Resume conversation N from the list
//	/help, /h           Show commands
//	/quit, /q           Exit chat
//	Ctrl+C              Cancel the in-flight request
//	Ctrl+D              Exit chat
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/optiq-tui/internal/cache"
	"github.com/jeranaias/optiq-tui/internal/config"
	"github.com/jeranaias/optiq-tui/internal/controller"
	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/store"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state for an interactive chat session.
type ChatSession struct {
	App   *App
	Store *store.Store
	Ctrl  *controller.Controller
	Cache *cache.Cache
	Input *ChatCLI
	Quiet bool

	// notices receives controller-side warnings (failed refresh, failed
	// delete) to surface between prompts.
	notices chan string

	// rendered tracks how many messages of each sub-chat have been
	// printed, keyed by "<conversation id>/<stage index>".
	rendered map[string]int

	// lastStage remembers the stage last shown so stage transitions get
	// a header.
	lastStage int

	StartTime time.Time
}

// renderKey builds the rendered-map key for a conversation stage.
func renderKey(conversationID string, stageIndex int) string {
	return conversationID + "/" + strconv.Itoa(stageIndex)
}

// NewChatSession wires the store, cache, and controller for a REPL run.
func NewChatSession(app *App, args Args) *ChatSession {
	st := store.New()
	offline := app.OpenCache()

	// Seed the store from the offline cache so earlier conversations are
	// listable before the server has been reached.
	if offline != nil {
		if convs, err := offline.Conversations(); err == nil {
			for i := len(convs) - 1; i >= 0; i-- {
				st.Add(convs[i])
			}
		}
	}

	session := &ChatSession{
		App:       app,
		Store:     st,
		Cache:     offline,
		Input:     NewChatCLI(),
		Quiet:     args.Quiet,
		notices:   make(chan string, 16),
		rendered:  make(map[string]int),
		lastStage: -1,
		StartTime: time.Now(),
	}

	opts := []controller.Option{
		controller.WithLogger(app.OpenLogger()),
		controller.WithSettleDelay(app.Config.AutoAdvanceDelay()),
		controller.WithNotify(func(ev controller.Event) {
			if ev.Kind == controller.EventNotice {
				select {
				case session.notices <- ev.Notice:
				default:
				}
			}
		}),
	}
	if offline != nil {
		opts = append(opts, controller.WithCache(offline))
	}
	session.Ctrl = controller.New(st, app.Client, opts...)

	return session
}

// Close releases the controller, cache, and input handler.
func (s *ChatSession) Close() {
	s.Ctrl.Close()
	if s.Cache != nil {
		s.Cache.Close()
	}
	s.Input.Close()
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChatCommand handles the "chat" command with full interactive support.
func HandleChatCommand(args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	app, err := NewApp(args)
	if err != nil {
		return err
	}
	if err := app.RequireToken(); err != nil {
		return err
	}

	session := NewChatSession(app, args)
	defer session.Close()

	// Best-effort server listing so /open covers conversations created
	// elsewhere. Offline operation still works from the cache seed.
	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), 5*time.Second)
	if err := session.Ctrl.Refresh(refreshCtx); err != nil && !session.Quiet {
		fmt.Fprintf(os.Stderr, "%s Could not reach %s; showing cached conversations\n",
			WarningStyle.Render("[!]"), app.Client.BaseURL())
	}
	cancelRefresh()

	if !session.Quiet {
		printWelcome(session)
	}

	// Ctrl+C cancels the in-flight request instead of killing the REPL.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			session.Ctrl.CancelActive()
			fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
		}
	}()

	for {
		session.drainNotices()

		input, err := session.Input.ReadInput(PromptStyle.Render(session.promptLabel()))
		if err != nil {
			// liner.ErrPromptAborted is Ctrl+C at an empty prompt; EOF is
			// Ctrl+D. Both exit cleanly.
			fmt.Println()
			printExitSummary(session)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldContinue, err := handleSlashCommand(input, session)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !shouldContinue {
				printExitSummary(session)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(session)
			return nil
		}

		if err := session.Ctrl.Send(input, nil); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			continue
		}
		session.markUserTurnRendered()
		session.waitAndRender()
	}
}

// promptLabel names the current stage in the prompt, e.g. "optiq[coder]> ".
func (s *ChatSession) promptLabel() string {
	conv, ok := s.Store.Active()
	if !ok {
		return "optiq[modeler]> "
	}
	return "optiq[" + shortStageName(conv.Active().AgentType) + "]> "
}

// markUserTurnRendered advances the rendered counter past the user turn
// that was just typed so it is not echoed back.
func (s *ChatSession) markUserTurnRendered() {
	conv, ok := s.Store.Active()
	if !ok {
		return
	}
	key := renderKey(conv.ID, conv.ActiveSubChat)
	s.rendered[key] = len(conv.Active().Messages)
	s.lastStage = conv.ActiveSubChat
}

// drainNotices prints any queued controller warnings.
func (s *ChatSession) drainNotices() {
	for {
		select {
		case notice := <-s.notices:
			fmt.Fprintf(os.Stderr, "%s %s\n", WarningStyle.Render("[!]"), notice)
		default:
			return
		}
	}
}

// =============================================================================
// WAITING AND RENDERING
// =============================================================================

// waitAndRender blocks until the active conversation settles, then
// prints any messages that arrived since the last render. Auto-advance
// chains (accept then generate) keep it waiting through the settle
// delay and the follow-up job.
func (s *ChatSession) waitAndRender() {
	// Upper bound: the poll budget plus generous slack. Cancellation via
	// Ctrl+C clears the loading flag and releases the wait early.
	budget := s.App.Config.PollInterval()*time.Duration(s.App.Config.Polling.MaxAttempts) +
		s.App.Config.AutoAdvanceDelay() + 30*time.Second
	deadline := time.Now().Add(budget)

	settledFor := 0
	for time.Now().Before(deadline) {
		s.drainNotices()
		conv, ok := s.Store.Active()
		if !ok {
			return
		}
		if !conv.IsLoading {
			// The settle delay between accept and auto-generate briefly
			// reports idle; require consecutive idle reads before trusting it.
			settledFor++
			if time.Duration(settledFor)*100*time.Millisecond > s.App.Config.AutoAdvanceDelay()+200*time.Millisecond {
				break
			}
		} else {
			settledFor = 0
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.renderNewMessages()
}

// renderNewMessages prints unseen messages of the active stage, with a
// stage header when the pipeline advanced.
func (s *ChatSession) renderNewMessages() {
	conv, ok := s.Store.Active()
	if !ok {
		return
	}

	if conv.ActiveSubChat != s.lastStage {
		stage := conv.Active().AgentType
		fmt.Println()
		fmt.Println(RenderStageHeader(conv.ActiveSubChat+1, len(model.Pipeline), shortStageName(stage)) +
			" " + DimStyle.Render(stage.DisplayName()))
		s.lastStage = conv.ActiveSubChat
	}

	key := renderKey(conv.ID, conv.ActiveSubChat)
	messages := conv.Active().Messages
	start := s.rendered[key]
	if start > len(messages) {
		start = 0
	}

	for _, msg := range messages[start:] {
		s.renderMessage(msg)
	}
	s.rendered[key] = len(messages)
}

// renderMessage prints one message in the transcript.
func (s *ChatSession) renderMessage(msg model.Message) {
	switch {
	case msg.Role == model.RoleUser:
		fmt.Println(DimStyle.Render("you: ") + msg.Content)
	case msg.IsRetryable():
		fmt.Printf("%s %s\n%s\n",
			ErrorStyle.Render("[Error]"), msg.Content,
			DimStyle.Render("Use /retry to reissue the request."))
	default:
		fmt.Println()
		displayAnswer(msg.Content)
		if len(msg.GeneratedFiles) > 0 {
			names := make([]string, 0, len(msg.GeneratedFiles))
			for name := range msg.GeneratedFiles {
				names = append(names, name)
			}
			fmt.Printf("%s Generated files: %s (save with /files DIR)\n",
				InfoStyle.Render("[+]"), strings.Join(names, ", "))
		}
		if msg.CanAccept {
			fmt.Println(DimStyle.Render("Accept this draft with /accept to advance the pipeline."))
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand dispatches a /command. Returns false to exit.
func handleSlashCommand(input string, s *ChatSession) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/help", "/h":
		printChatHelp()
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	case "/accept", "/a":
		return true, s.acceptCurrent()

	case "/retry", "/r":
		return true, s.retryCurrent()

	case "/stage":
		return true, s.switchStage(args)

	case "/files":
		return true, s.saveFiles(args)

	case "/new", "/n":
		s.Ctrl.NewConversation()
		s.lastStage = -1
		fmt.Println(InfoStyle.Render("Started a new conversation. Describe your problem."))
		return true, nil

	case "/list", "/ls":
		s.listConversations()
		return true, nil

	case "/open", "/o":
		return true, s.openConversation(args)

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// acceptCurrent accepts the latest draft of the active stage.
func (s *ChatSession) acceptCurrent() error {
	conv, ok := s.Store.Active()
	if !ok {
		return fmt.Errorf("no active conversation")
	}
	sub := conv.Active()
	msg, ok := sub.LastAssistantMessage()
	if !ok {
		return fmt.Errorf("nothing to accept yet")
	}

	if err := s.Ctrl.Accept(sub.AgentType, msg); err != nil {
		return err
	}

	if sub.AgentType == model.AgentVisualizer {
		fmt.Println(SuccessStyle.Render("Report accepted.") + " " +
			DimStyle.Render("The pipeline is complete."))
		return nil
	}

	fmt.Printf("%s Accepted; generating the %s draft...\n",
		SuccessStyle.Render("[ok]"), shortStageName(sub.AgentType.Next()))
	s.waitAndRender()
	return nil
}

// retryCurrent reissues the last failed request of the active stage.
func (s *ChatSession) retryCurrent() error {
	conv, ok := s.Store.Active()
	if !ok {
		return fmt.Errorf("no active conversation")
	}

	messages := conv.Active().Messages
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsRetryable() {
			if err := s.Ctrl.Retry(conv.ID, messages[i]); err != nil {
				return err
			}
			s.waitAndRender()
			return nil
		}
	}
	return fmt.Errorf("nothing to retry")
}

// switchStage changes the visible pipeline stage.
func (s *ChatSession) switchStage(args []string) error {
	conv, ok := s.Store.Active()
	if !ok {
		return fmt.Errorf("no active conversation")
	}

	if len(args) == 0 {
		for i, sub := range conv.SubChats {
			marker := "  "
			if i == conv.ActiveSubChat {
				marker = "> "
			}
			status := fmt.Sprintf("%d messages", len(sub.Messages))
			if sub.IsAccepted() {
				status += ", accepted"
			}
			fmt.Printf("%s%d. %s (%s)\n", marker, i+1, shortStageName(sub.AgentType), status)
		}
		return nil
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(conv.SubChats) {
		return &ValidationError{
			Field:   "stage",
			Value:   args[0],
			Reason:  fmt.Sprintf("must be 1-%d", len(conv.SubChats)),
			Example: "/stage 2",
		}
	}

	s.Ctrl.Navigate(n - 1)
	s.lastStage = -1
	s.rendered[renderKey(conv.ID, n-1)] = 0
	s.renderNewMessages()
	return nil
}

// saveFiles lists, or writes to a directory, the generated files of the
// latest visualizer result.
func (s *ChatSession) saveFiles(args []string) error {
	conv, ok := s.Store.Active()
	if !ok {
		return fmt.Errorf("no active conversation")
	}

	sub, ok := conv.SubChatFor(model.AgentVisualizer)
	if !ok {
		return fmt.Errorf("no report yet; the visualizer stage has not run")
	}
	msg, ok := sub.LastAssistantMessage()
	if !ok || len(msg.GeneratedFiles) == 0 {
		return fmt.Errorf("the report has no generated files")
	}

	if len(args) == 0 {
		for name := range msg.GeneratedFiles {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println(DimStyle.Render("Save them with: /files DIR"))
		return nil
	}

	return writeGeneratedFiles(args[0], msg.GeneratedFiles, s.Quiet)
}

// listConversations prints the conversation list, newest first.
func (s *ChatSession) listConversations() {
	convs := s.Store.All()
	if len(convs) == 0 {
		fmt.Println(DimStyle.Render("No conversations yet."))
		return
	}
	activeID := s.Store.ActiveID()
	for i, conv := range convs {
		marker := "  "
		if conv.ID == activeID {
			marker = "> "
		}
		fmt.Printf("%s%d. %s %s\n", marker, i+1, conv.Title,
			DimStyle.Render(formatRelativeTime(conv.UpdatedAt)))
	}
}

// openConversation resumes a conversation by its /list position.
func (s *ChatSession) openConversation(args []string) error {
	if len(args) == 0 {
		return ErrMissingArgument("conversation number", "/open 2")
	}

	convs := s.Store.All()
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(convs) {
		return &ValidationError{
			Field:   "conversation",
			Value:   args[0],
			Reason:  fmt.Sprintf("must be 1-%d", len(convs)),
			Example: "/open 2",
		}
	}

	target := convs[n-1]
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Ctrl.Select(ctx, target.ID); err != nil {
		return err
	}

	// Force a full reprint of the resumed stage.
	s.lastStage = -1
	if conv, ok := s.Store.Active(); ok {
		s.rendered[renderKey(conv.ID, conv.ActiveSubChat)] = 0
		if conv.IsLoading {
			fmt.Println(InfoStyle.Render("Resuming a running job..."))
			s.waitAndRender()
			return nil
		}
	}
	s.renderNewMessages()
	return nil
}

// =============================================================================
// BANNER AND SUMMARY
// =============================================================================

// printWelcome shows the session banner.
func printWelcome(s *ChatSession) {
	fmt.Println(TitleStyle.Render("optiq chat"))
	fmt.Printf("%s %s\n", LabelStyle.Render("Server"), ValueStyle.Render(s.App.Client.BaseURL()))
	fmt.Printf("%s %s\n", LabelStyle.Render("Pipeline"),
		ValueStyle.Render("modeler > coder > visualizer"))
	fmt.Println(DimStyle.Render("Describe an optimization problem, or /help for commands."))
	fmt.Println()
}

// printChatHelp lists the interactive commands.
func printChatHelp() {
	rows := [][2]string{
		{"/accept", "Accept the current draft and advance the pipeline"},
		{"/retry", "Reissue the last failed request"},
		{"/stage [N]", "Show stages, or view stage N"},
		{"/files [DIR]", "List or save the report's generated files"},
		{"/new", "Start a fresh conversation"},
		{"/list", "List conversations"},
		{"/open N", "Resume conversation N"},
		{"/quit", "Exit chat"},
	}
	for _, row := range rows {
		fmt.Printf("  %s %s\n", LabelStyle.Render(row[0]), row[1])
	}
}

// printExitSummary prints a short session summary on exit.
func printExitSummary(s *ChatSession) {
	if s.Quiet {
		return
	}
	fmt.Printf("%s %d conversation(s), %s\n",
		DimStyle.Render("Session:"), s.Store.Len(),
		formatDurationShort(time.Since(s.StartTime)))
}
