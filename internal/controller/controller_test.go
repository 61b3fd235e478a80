// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/optiq-tui/internal/api"
	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/store"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

// submittedJob records the form fields of one job submission.
type submittedJob struct {
	AgentType              string
	Prompt                 string
	ConversationID         string
	AcceptedModelMessageID string
	AcceptedCodeMessageID  string
}

// backend is a scriptable fake of the job API.
type backend struct {
	mu sync.Mutex

	submitFail   bool
	jobFail      bool
	answer       string
	pendingTicks int
	convID       string

	status     *api.ConversationStatus
	statusFail bool
	histories  map[string][]api.HistoryMessage
	deleteFail bool

	submits     []submittedJob
	deleteCalls []string
	jobTicks    map[string]int
	nextJob     int
}

func newBackend() *backend {
	return &backend{
		answer:    "backend answer",
		convID:    "srv-conv-1",
		histories: map[string][]api.HistoryMessage{},
		jobTicks:  map[string]int{},
	}
}

func (b *backend) recorded() []submittedJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]submittedJob, len(b.submits))
	copy(out, b.submits)
	return out
}

func (b *backend) ticks(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobTicks[jobID]
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/jobs/submit", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.submits = append(b.submits, submittedJob{
			AgentType:              r.FormValue("agentType"),
			Prompt:                 r.FormValue("prompt"),
			ConversationID:         r.FormValue("conversationId"),
			AcceptedModelMessageID: r.FormValue("acceptedModelMessageId"),
			AcceptedCodeMessageID:  r.FormValue("acceptedCodeMessageId"),
		})
		fail := b.submitFail
		b.nextJob++
		jobID := "job-" + strconv.Itoa(b.nextJob)
		convID := b.convID
		b.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"message": "submission rejected"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok", "jobId": jobID, "conversationId": convID,
		})
	})

	mux.HandleFunc("/jobs/get", func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("jobId")
		b.mu.Lock()
		b.jobTicks[jobID]++
		tick := b.jobTicks[jobID]
		pending := tick <= b.pendingTicks
		fail := b.jobFail
		answer := b.answer
		b.mu.Unlock()

		switch {
		case pending:
			json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
		case fail:
			json.NewEncoder(w).Encode(map[string]string{
				"status": "TASK_FAILED", "error": "solver crashed",
			})
		default:
			json.NewEncoder(w).Encode(map[string]string{
				"status": "completed", "answer": answer, "messageId": "srv-msg-" + jobID,
			})
		}
	})

	mux.HandleFunc("/conversations/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			b.mu.Lock()
			b.deleteCalls = append(b.deleteCalls, strings.TrimPrefix(r.URL.Path, "/conversations/"))
			fail := b.deleteFail
			b.mu.Unlock()
			if fail {
				http.Error(w, "delete failed", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/")
		switch {
		case len(parts) == 2 && parts[1] == "status":
			b.mu.Lock()
			status, fail := b.status, b.statusFail
			b.mu.Unlock()
			if fail {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			if status == nil {
				status = &api.ConversationStatus{ConversationID: parts[0]}
			}
			json.NewEncoder(w).Encode(status)
		case len(parts) == 3 && parts[1] == "history":
			b.mu.Lock()
			msgs := b.histories[parts[2]]
			b.mu.Unlock()
			json.NewEncoder(w).Encode(api.History{
				ConversationID: parts[0], AgentType: parts[2], Messages: msgs,
			})
		default:
			http.NotFound(w, r)
		}
	})

	return mux
}

// =============================================================================
// TEST HARNESS
// =============================================================================

type harness struct {
	backend *backend
	server  *httptest.Server
	store   *store.Store
	ctrl    *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := newBackend()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, func() string { return "test-token" }).
		WithPollPolicy(time.Millisecond, 10).
		WithRateLimit(rate.Inf, 1)

	st := store.New()
	ctrl := New(st, client, WithSettleDelay(time.Millisecond))
	t.Cleanup(ctrl.Close)

	return &harness{backend: b, server: srv, store: st, ctrl: ctrl}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) activeConv(t *testing.T) model.Conversation {
	t.Helper()
	conv, ok := h.store.Active()
	if !ok {
		t.Fatal("no active conversation")
	}
	return conv
}

// =============================================================================
// SEND
// =============================================================================

func TestSendHappyPath(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Send("minimize shipping cost across 3 depots", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv := h.activeConv(t)
	if conv.Title != "minimize shipping cost across 3 depots" {
		t.Errorf("title = %q", conv.Title)
	}

	waitFor(t, "job resolution", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading && len(c.SubChats[0].Messages) == 2
	})

	c, _ := h.store.Get(conv.ID)
	msgs := c.SubChats[0].Messages
	if msgs[0].Role != model.RoleUser {
		t.Errorf("first message role = %s", msgs[0].Role)
	}
	reply := msgs[1]
	if reply.Role != model.RoleAssistant || !reply.CanAccept {
		t.Error("reply should be an accept-eligible assistant message")
	}
	if reply.Content != "backend answer" {
		t.Errorf("reply content = %q", reply.Content)
	}
	if c.BackendID != "srv-conv-1" {
		t.Errorf("backend id = %q, want srv-conv-1", c.BackendID)
	}

	subs := h.backend.recorded()
	if len(subs) != 1 {
		t.Fatalf("submits = %d, want 1", len(subs))
	}
	if subs[0].AgentType != "MODELER_AGENT" {
		t.Errorf("agentType = %q", subs[0].AgentType)
	}
	if subs[0].ConversationID != "" {
		t.Errorf("first submit should carry no conversation id, got %q", subs[0].ConversationID)
	}
}

func TestSendAttachmentNamesStayOutOfPrompt(t *testing.T) {
	h := newHarness(t)

	files := []api.File{{Name: "demand.csv", Data: []byte("a,b\n1,2")}}
	if err := h.ctrl.Send("use the attached demand data", files); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)
	waitFor(t, "job resolution", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading
	})

	c, _ := h.store.Get(conv.ID)
	userMsg := c.SubChats[0].Messages[0]
	if !strings.Contains(userMsg.Content, "demand.csv") {
		t.Error("transcript should show the attached file name")
	}
	subs := h.backend.recorded()
	if strings.Contains(subs[0].Prompt, "demand.csv") {
		t.Error("prompt must not contain file names")
	}
}

func TestSendRejectedWhileLoading(t *testing.T) {
	h := newHarness(t)
	h.backend.pendingTicks = 1000 // keep the job running

	if err := h.ctrl.Send("first", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "loading flag", func() bool {
		c := h.activeConv(t)
		return c.IsLoading
	})

	if err := h.ctrl.Send("second", nil); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}

func TestSendFailureAppendsRetryMessage(t *testing.T) {
	h := newHarness(t)
	h.backend.submitFail = true

	if err := h.ctrl.Send("optimize the roster", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)

	waitFor(t, "retry message", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading && len(c.SubChats[0].Messages) == 2
	})

	c, _ := h.store.Get(conv.ID)
	bubble := c.SubChats[0].Messages[1]
	if !bubble.IsRetryable() {
		t.Fatal("failure should produce a retry-bearing message")
	}
	if bubble.Retry.Mode != model.RetrySend {
		t.Errorf("retry mode = %s, want send", bubble.Retry.Mode)
	}
	if bubble.Retry.Prompt != "optimize the roster" {
		t.Errorf("retry prompt = %q", bubble.Retry.Prompt)
	}
	if len(bubble.Actions) == 0 || bubble.Actions[0].Label != "Retry" {
		t.Error("error bubble should carry a Retry action")
	}
}

func TestJobFailureAppendsRetryMessage(t *testing.T) {
	h := newHarness(t)
	h.backend.jobFail = true

	if err := h.ctrl.Send("optimize", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)

	waitFor(t, "retry message", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading && len(c.SubChats[0].Messages) == 2
	})

	c, _ := h.store.Get(conv.ID)
	bubble := c.SubChats[0].Messages[1]
	if !bubble.IsRetryable() {
		t.Fatal("job failure should produce a retry-bearing message")
	}
	if !strings.Contains(bubble.Content, "solver crashed") {
		t.Errorf("bubble content = %q, want backend failure text", bubble.Content)
	}
}

// =============================================================================
// ACCEPT CASCADE
// =============================================================================

func TestAcceptCascadesIntoAutoGenerate(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Send("model the fleet problem", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)
	waitFor(t, "modeler result", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading && len(c.SubChats[0].Messages) == 2
	})

	c, _ := h.store.Get(conv.ID)
	reply := c.SubChats[0].Messages[1]

	h.backend.mu.Lock()
	h.backend.answer = "import pulp"
	h.backend.mu.Unlock()

	if err := h.ctrl.Accept(model.AgentModeler, reply); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	waitFor(t, "coder auto-generate", func() bool {
		cc, _ := h.store.Get(conv.ID)
		return len(cc.SubChats) == 2 && !cc.IsLoading && len(cc.SubChats[1].Messages) == 1
	})

	cc, _ := h.store.Get(conv.ID)
	if cc.ActiveSubChat != 1 {
		t.Errorf("active stage = %d, want 1", cc.ActiveSubChat)
	}
	if cc.AcceptedModelMessageID != reply.ID {
		t.Errorf("accepted model id = %q, want %q", cc.AcceptedModelMessageID, reply.ID)
	}
	code := cc.SubChats[1].Messages[0]
	if code.Content != "import pulp" || code.Type != model.TypeCode {
		t.Errorf("coder result = %+v", code)
	}

	subs := h.backend.recorded()
	if len(subs) != 2 {
		t.Fatalf("submits = %d, want 2", len(subs))
	}
	auto := subs[1]
	if auto.AgentType != "CODER_AGENT" {
		t.Errorf("auto agentType = %q", auto.AgentType)
	}
	if auto.Prompt != " " {
		t.Errorf("auto prompt = %q, want single space", auto.Prompt)
	}
	if auto.AcceptedModelMessageID != reply.ID {
		t.Errorf("auto acceptedModelMessageId = %q, want %q", auto.AcceptedModelMessageID, reply.ID)
	}
	if auto.ConversationID != "srv-conv-1" {
		t.Errorf("auto conversationId = %q, want backend id", auto.ConversationID)
	}
}

func TestAcceptRejectsIneligibleMessages(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Send("model it", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)
	waitFor(t, "result", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading && len(c.SubChats[0].Messages) == 2
	})

	c, _ := h.store.Get(conv.ID)
	userMsg := c.SubChats[0].Messages[0]
	if err := h.ctrl.Accept(model.AgentModeler, userMsg); err == nil {
		t.Error("accepting a user message should fail")
	}
}

// =============================================================================
// RETRY
// =============================================================================

func TestRetryReplacesErrorBubble(t *testing.T) {
	h := newHarness(t)
	h.backend.submitFail = true

	if err := h.ctrl.Send("optimize the roster", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)
	waitFor(t, "retry bubble", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading && len(c.SubChats[0].Messages) == 2
	})

	// Backend recovers.
	h.backend.mu.Lock()
	h.backend.submitFail = false
	h.backend.mu.Unlock()

	c, _ := h.store.Get(conv.ID)
	bubble := c.SubChats[0].Messages[1]
	if err := h.ctrl.Retry(conv.ID, bubble); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	waitFor(t, "retry resolution", func() bool {
		cc, _ := h.store.Get(conv.ID)
		return !cc.IsLoading && len(cc.SubChats[0].Messages) == 2 &&
			!cc.SubChats[0].Messages[1].IsRetryable()
	})

	cc, _ := h.store.Get(conv.ID)
	msgs := cc.SubChats[0].Messages
	// One user turn, one result: the user turn was not re-appended and
	// the error bubble is gone.
	if msgs[0].Role != model.RoleUser {
		t.Errorf("first message role = %s", msgs[0].Role)
	}
	if msgs[1].Content != "backend answer" {
		t.Errorf("result content = %q", msgs[1].Content)
	}

	subs := h.backend.recorded()
	if len(subs) != 2 {
		t.Fatalf("submits = %d, want 2 (original + retry)", len(subs))
	}
	if subs[1].Prompt != "optimize the roster" {
		t.Errorf("retry prompt = %q", subs[1].Prompt)
	}
}

func TestRetryWithoutDescriptorFails(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Send("x", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)
	waitFor(t, "resolution", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading
	})

	if err := h.ctrl.Retry(conv.ID, model.NewUserMessage(model.AgentModeler, "x")); err == nil {
		t.Error("retry of a non-retry message should fail")
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestDeleteRemovesLocallyEvenWhenBackendFails(t *testing.T) {
	h := newHarness(t)
	h.backend.deleteFail = true

	if err := h.ctrl.Send("doomed conversation", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)
	waitFor(t, "resolution", func() bool {
		c, _ := h.store.Get(conv.ID)
		return !c.IsLoading
	})

	h.ctrl.Delete(t.Context(), conv.ID)

	if h.store.Len() != 0 {
		t.Error("conversation should be removed locally despite backend failure")
	}
	if calls := h.backend.deleteCalls; len(calls) != 1 || calls[0] != "srv-conv-1" {
		t.Errorf("backend delete calls = %v", calls)
	}
}

func TestNewConversationClearsActiveAndCancelsPoll(t *testing.T) {
	h := newHarness(t)
	h.backend.pendingTicks = 1000

	if err := h.ctrl.Send("long running", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "loading", func() bool {
		c := h.activeConv(t)
		return c.IsLoading
	})

	h.ctrl.NewConversation()
	if !h.store.CreatingNew() {
		t.Error("store should be creating-new after NewConversation")
	}
	if _, ok := h.store.Active(); ok {
		t.Error("active pointer should be cleared")
	}
}

func TestResumedPollSupersedesActivePoll(t *testing.T) {
	b := newBackend()
	b.pendingTicks = 100000
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	// The default harness budget is too small here; both jobs must be
	// able to poll indefinitely within the test window.
	client := api.NewClient(srv.URL, func() string { return "test-token" }).
		WithPollPolicy(time.Millisecond, 100000).
		WithRateLimit(rate.Inf, 1)

	st := store.New()
	ctrl := New(st, client, WithSettleDelay(time.Millisecond))
	t.Cleanup(ctrl.Close)

	if err := ctrl.Send("long running", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv, ok := st.Active()
	if !ok {
		t.Fatal("no active conversation")
	}
	waitFor(t, "first job polling", func() bool { return b.ticks("job-1") > 0 })

	// Re-attaching to a recovered job takes over the single
	// cancellation slot, which must stop the in-flight poll.
	ctrl.resumePoll(conv.ID, "job-second")
	waitFor(t, "second job polling", func() bool { return b.ticks("job-second") > 0 })

	waitFor(t, "first poll to stop", func() bool {
		before := b.ticks("job-1")
		time.Sleep(20 * time.Millisecond)
		return b.ticks("job-1") == before
	})

	frozen := b.ticks("job-1")
	second := b.ticks("job-second")
	waitFor(t, "second poll still ticking", func() bool { return b.ticks("job-second") > second })
	if got := b.ticks("job-1"); got != frozen {
		t.Errorf("superseded poll kept ticking: %d then %d", frozen, got)
	}
}

func TestCloseStopsPendingAutoGenerate(t *testing.T) {
	b := newBackend()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, func() string { return "test-token" }).
		WithPollPolicy(time.Millisecond, 10).
		WithRateLimit(rate.Inf, 1)

	st := store.New()
	ctrl := New(st, client, WithSettleDelay(50*time.Millisecond))

	if err := ctrl.Send("model it", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv, ok := st.Active()
	if !ok {
		t.Fatal("no active conversation")
	}
	waitFor(t, "modeler result", func() bool {
		c, _ := st.Get(conv.ID)
		return !c.IsLoading && len(c.SubChats[0].Messages) == 2
	})

	c, _ := st.Get(conv.ID)
	if err := ctrl.Accept(model.AgentModeler, c.SubChats[0].Messages[1]); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Closing inside the settle window must stop the scheduled
	// auto-generate before it submits.
	ctrl.Close()
	time.Sleep(150 * time.Millisecond)

	if subs := b.recorded(); len(subs) != 1 {
		t.Errorf("submits after close = %d, want 1", len(subs))
	}
}

func TestResolutionDropsWhenConversationDeleted(t *testing.T) {
	h := newHarness(t)
	h.backend.pendingTicks = 3

	if err := h.ctrl.Send("short lived", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := h.activeConv(t)

	// Remove the conversation while the job is still polling. The
	// completion must not resurrect it.
	h.store.Remove(conv.ID)

	time.Sleep(100 * time.Millisecond)
	if h.store.Len() != 0 {
		t.Error("late job resolution resurrected a deleted conversation")
	}
}
