// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"

	"github.com/jeranaias/optiq-tui/internal/model"
)

// =============================================================================
// JOB SUBMISSION
// =============================================================================

// File is an attachment uploaded alongside a prompt.
type File struct {
	Name string
	Data []byte
}

// JobRequest describes a generation job. Prompt may be a single space to
// signal "auto-generate with no new user text". An empty ConversationID
// makes the backend create a new conversation and return its id.
type JobRequest struct {
	AgentType              model.AgentType
	Prompt                 string
	ConversationID         string
	AcceptedModelMessageID string
	AcceptedCodeMessageID  string
	Files                  []File
}

// JobSubmitResponse is the backend's answer to a submission.
type JobSubmitResponse struct {
	Status         string `json:"status"`
	JobID          string `json:"jobId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

// SubmitJob submits a generation request as a multipart form.
func (c *Client) SubmitJob(ctx context.Context, req JobRequest) (*JobSubmitResponse, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("agentType", req.AgentType.String()); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if err := form.WriteField("prompt", req.Prompt); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if req.ConversationID != "" {
		if err := form.WriteField("conversationId", req.ConversationID); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	if req.AcceptedModelMessageID != "" {
		if err := form.WriteField("acceptedModelMessageId", req.AcceptedModelMessageID); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	if req.AcceptedCodeMessageID != "" {
		if err := form.WriteField("acceptedCodeMessageId", req.AcceptedCodeMessageID); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	for _, file := range req.Files {
		part, err := form.CreateFormFile("files", file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", file.Name, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", file.Name, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs/submit", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	c.logRequest(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("job submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}

	var submit JobSubmitResponse
	if err := decodeJSON(resp, &submit); err != nil {
		return nil, err
	}
	if submit.Status != "ok" {
		msg := submit.Message
		if msg == "" {
			msg = "failed to submit job"
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	return &submit, nil
}

// =============================================================================
// JOB STATUS
// =============================================================================

// JobStatus is one observation of a job's lifecycle. The backend reports
// queued/pending while running, completed or TASK_COMPLETED on success,
// error or TASK_FAILED on failure, and not_found before the job is
// visible server-side.
type JobStatus struct {
	Status    string `json:"status"`
	Answer    string `json:"answer,omitempty"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Completed reports whether the job finished successfully.
func (s *JobStatus) Completed() bool {
	return s.Status == "completed" || s.Status == "TASK_COMPLETED"
}

// Failed reports whether the backend declared the job failed.
func (s *JobStatus) Failed() bool {
	return s.Status == "error" || s.Status == "TASK_FAILED"
}

// NotFound reports whether the job is not yet visible server-side.
func (s *JobStatus) NotFound() bool {
	return s.Status == "not_found"
}

// FailureMessage returns the backend's error text, falling back through
// the available fields to a generic message.
func (s *JobStatus) FailureMessage() string {
	switch {
	case s.Error != "":
		return s.Error
	case s.Message != "":
		return s.Message
	case s.Answer != "":
		return s.Answer
	default:
		return "job failed"
	}
}

// GetJobStatus fetches the current status of a job. An HTTP 404 returns
// (nil, nil): the job is not yet visible, which is distinct from a 200
// body carrying not_found and from a real error.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	endpoint := c.baseURL + "/jobs/get?jobId=" + url.QueryEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, errorFromResponse(resp)
	}

	var status JobStatus
	if err := decodeJSON(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// =============================================================================
// CANCELLABLE POLLING
// =============================================================================

// Poll is an in-flight job poll. Wait blocks until the poll settles;
// Cancel stops all future ticks and is idempotent, safe to call after
// settlement, and safe to call concurrently.
type Poll struct {
	JobID string

	done     chan struct{}
	canceled chan struct{}
	once     sync.Once

	result *JobStatus
	err    error
}

// Wait blocks until the poll settles and returns the terminal status or
// error. A canceled poll returns ErrPollCanceled.
func (p *Poll) Wait() (*JobStatus, error) {
	<-p.done
	return p.result, p.err
}

// Done returns a channel closed when the poll settles.
func (p *Poll) Done() <-chan struct{} {
	return p.done
}

// Cancel stops all future polling ticks. Calling it twice, or after the
// poll has settled, has no observable effect.
func (p *Poll) Cancel() {
	p.once.Do(func() { close(p.canceled) })
}

// PollJob polls a job on a fixed interval up to the configured attempt
// budget. onUpdate is invoked with every non-terminal observation; it may
// be nil. The poll performs no shared-state mutation itself: callers own
// all state updates in onUpdate and Wait handlers, and must tolerate a
// resolution firing after their own context has moved on.
func (c *Client) PollJob(ctx context.Context, jobID string, onUpdate func(*JobStatus)) *Poll {
	p := &Poll{
		JobID:    jobID,
		done:     make(chan struct{}),
		canceled: make(chan struct{}),
	}

	go func() {
		defer close(p.done)

		for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
			if stopped(ctx, p) {
				p.err = ErrPollCanceled
				return
			}

			if err := c.limiter.Wait(ctx); err != nil {
				p.err = ErrPollCanceled
				return
			}

			status, err := c.GetJobStatus(ctx, jobID)
			if stopped(ctx, p) {
				p.err = ErrPollCanceled
				return
			}

			switch {
			case err != nil:
				// Transient fetch errors consume an attempt and retry.
				log.Printf("api: poll attempt %d for job %s failed: %v", attempt, jobID, err)
				if attempt >= c.maxPollAttempts {
					p.err = err
					return
				}
			case status == nil, status.NotFound():
				if attempt >= c.maxPollAttempts {
					p.err = fmt.Errorf("%w: job not found", ErrPollTimeout)
					return
				}
			default:
				if onUpdate != nil {
					onUpdate(status)
				}
				if status.Completed() {
					p.result = status
					return
				}
				if status.Failed() {
					p.err = fmt.Errorf("job failed: %s", status.FailureMessage())
					return
				}
				if attempt >= c.maxPollAttempts {
					p.err = fmt.Errorf("%w after %d attempts", ErrPollTimeout, c.maxPollAttempts)
					return
				}
			}

			select {
			case <-p.canceled:
				p.err = ErrPollCanceled
				return
			case <-ctx.Done():
				p.err = ErrPollCanceled
				return
			case <-c.clock(c.pollInterval):
			}
		}

		p.err = fmt.Errorf("%w after %d attempts", ErrPollTimeout, c.maxPollAttempts)
	}()

	return p
}

// stopped reports whether the poll has been canceled or its context ended.
func stopped(ctx context.Context, p *Poll) bool {
	select {
	case <-p.canceled:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
