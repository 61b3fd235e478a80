// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/optiq-tui/internal/model"
)

// newTestClient builds a client against a test server with instant poll
// ticks and no pacing.
func newTestClient(serverURL string) *Client {
	c := NewClient(serverURL, func() string { return "test-token" })
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.clock = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return c
}

// =============================================================================
// SUBMIT TESTS
// =============================================================================

func TestSubmitJob_MultipartFields(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/jobs/submit" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not multipart: %v", err)
		}
		if got := r.FormValue("agentType"); got != "MODELER_AGENT" {
			t.Errorf("agentType = %q", got)
		}
		if got := r.FormValue("prompt"); got != "Maximize profit" {
			t.Errorf("prompt = %q", got)
		}
		if got := r.FormValue("conversationId"); got != "42" {
			t.Errorf("conversationId = %q", got)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 1 || files[0].Filename != "data.csv" {
			t.Errorf("files = %v", files)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","jobId":"job-1","conversationId":"42"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.SubmitJob(context.Background(), JobRequest{
		AgentType:      model.AgentModeler,
		Prompt:         "Maximize profit",
		ConversationID: "42",
		Files:          []File{{Name: "data.csv", Data: []byte("a,b\n1,2")}},
	})
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if resp.JobID != "job-1" {
		t.Errorf("JobID = %q", resp.JobID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestSubmitJob_BackendRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"rejected","message":"quota exceeded"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.SubmitJob(context.Background(), JobRequest{AgentType: model.AgentModeler, Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for non-ok status")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Message != "quota exceeded" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestSubmitJob_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.SubmitJob(context.Background(), JobRequest{AgentType: model.AgentCoder, Prompt: " "})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestGetJobStatus_404IsNotYetVisible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	status, err := client.GetJobStatus(context.Background(), "job-x")
	if err != nil {
		t.Fatalf("404 should not be an error: %v", err)
	}
	if status != nil {
		t.Errorf("status = %+v, want nil", status)
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status    string
		completed bool
		failed    bool
	}{
		{"completed", true, false},
		{"TASK_COMPLETED", true, false},
		{"error", false, true},
		{"TASK_FAILED", false, true},
		{"pending", false, false},
		{"queued", false, false},
		{"not_found", false, false},
	}

	for _, tt := range tests {
		s := &JobStatus{Status: tt.status}
		if s.Completed() != tt.completed {
			t.Errorf("%s: Completed = %v", tt.status, s.Completed())
		}
		if s.Failed() != tt.failed {
			t.Errorf("%s: Failed = %v", tt.status, s.Failed())
		}
	}
}

func TestJobStatus_FailureMessage(t *testing.T) {
	if got := (&JobStatus{Error: "boom", Message: "m"}).FailureMessage(); got != "boom" {
		t.Errorf("FailureMessage = %q, want error field first", got)
	}
	if got := (&JobStatus{Message: "m"}).FailureMessage(); got != "m" {
		t.Errorf("FailureMessage = %q", got)
	}
	if got := (&JobStatus{}).FailureMessage(); got != "job failed" {
		t.Errorf("FailureMessage = %q, want generic fallback", got)
	}
}

// =============================================================================
// POLL TESTS
// =============================================================================

func TestPollJob_ResolvesOnCompletion(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"status":"pending"}`))
			return
		}
		w.Write([]byte(`{"status":"completed","answer":"Model: ...","messageId":"m-9"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	var updates atomic.Int32
	poll := client.PollJob(context.Background(), "job-1", func(*JobStatus) { updates.Add(1) })

	status, err := poll.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status.Answer != "Model: ..." || status.MessageID != "m-9" {
		t.Errorf("status = %+v", status)
	}
	if updates.Load() < 2 {
		t.Errorf("onUpdate calls = %d, want >= 2", updates.Load())
	}
}

func TestPollJob_FailsOnBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"TASK_FAILED","error":"solver crashed"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.PollJob(context.Background(), "job-1", nil).Wait()
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := err.Error(); got != "job failed: solver crashed" {
		t.Errorf("err = %q", got)
	}
}

func TestPollJob_TimesOutWhenNeverVisible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL).WithPollPolicy(time.Millisecond, 5)
	_, err := client.PollJob(context.Background(), "ghost", nil).Wait()
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
}

func TestPollJob_TimesOutWhileTaskPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"queued"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL).WithPollPolicy(time.Millisecond, 4)
	_, err := client.PollJob(context.Background(), "slow", nil).Wait()
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
}

func TestPollJob_CancelIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"pending"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil).WithPollPolicy(50*time.Millisecond, 30)
	poll := client.PollJob(context.Background(), "job-1", nil)

	poll.Cancel()
	poll.Cancel() // second cancel must be a no-op

	_, err := poll.Wait()
	if !errors.Is(err, ErrPollCanceled) {
		t.Fatalf("err = %v, want ErrPollCanceled", err)
	}

	poll.Cancel() // cancel after settlement must not panic
}

func TestPollJob_TransientFetchErrorsRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"completed","answer":"done"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL).WithPollPolicy(time.Millisecond, 10)
	status, err := client.PollJob(context.Background(), "flaky", nil).Wait()
	if err != nil {
		t.Fatalf("expected recovery after transient errors: %v", err)
	}
	if status.Answer != "done" {
		t.Errorf("Answer = %q", status.Answer)
	}
}
