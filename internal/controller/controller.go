// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package controller drives the three-stage generation pipeline: it
// owns job submission and polling, accept/advance semantics, retry
// descriptors, and session resume reconciliation. Presentation layers
// call its operations and render store snapshots; they never talk to
// the backend directly.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/optiq-tui/internal/api"
	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/store"
)

// ErrBusy is returned when an operation is rejected because a job is
// already outstanding for the conversation.
var ErrBusy = errors.New("a request is already in progress")

// =============================================================================
// EVENTS
// =============================================================================

// EventKind classifies controller notifications.
type EventKind int

const (
	// EventStateChanged signals that store snapshots should be re-read.
	EventStateChanged EventKind = iota
	// EventNotice carries a transient, non-blocking message (fetch
	// failures, background errors).
	EventNotice
)

// Event is a controller notification delivered to the presentation
// layer's registered callback. Callbacks run on controller goroutines
// and must not block.
type Event struct {
	Kind           EventKind
	ConversationID string
	Notice         string
}

// Cache receives write-behind copies of conversations for offline
// listing. Implementations must be best-effort; errors are theirs to
// swallow or log.
type Cache interface {
	SaveConversation(conv model.Conversation)
	DeleteConversation(id string)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller coordinates the store, the backend client, and the single
// tracked poll.
type Controller struct {
	store  *store.Store
	client *api.Client
	cache  Cache
	logger *log.Logger
	notify func(Event)

	// settle is the pause between accepting a stage and auto-generating
	// the next one.
	settle time.Duration

	polls *pollTracker
	wg    sync.WaitGroup

	// closeMu guards closed and the pending settle timer so Close can
	// stop a scheduled auto-generate before it starts.
	closeMu     sync.Mutex
	closed      bool
	settleTimer *time.Timer
}

// Option configures a Controller.
type Option func(*Controller)

// WithCache attaches an offline cache for write-behind persistence.
func WithCache(cache Cache) Option {
	return func(c *Controller) { c.cache = cache }
}

// WithLogger sets the logger for background errors.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithSettleDelay overrides the accept-to-autogenerate delay.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.settle = d
		}
	}
}

// WithNotify registers the event callback.
func WithNotify(fn func(Event)) Option {
	return func(c *Controller) { c.notify = fn }
}

// New creates a controller over a store and backend client.
func New(st *store.Store, client *api.Client, opts ...Option) *Controller {
	c := &Controller{
		store:  st,
		client: client,
		settle: 500 * time.Millisecond,
		polls:  newPollTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close cancels any in-flight poll, stops a pending settle timer, and
// waits for background work. No new background work starts afterwards.
func (c *Controller) Close() {
	c.closeMu.Lock()
	c.closed = true
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.closeMu.Unlock()

	c.polls.cancel()
	c.wg.Wait()
}

// begin registers a unit of background work. It fails once Close has
// run, keeping late timers and callbacks from outliving the wait.
func (c *Controller) begin() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Controller) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}

func (c *Controller) changed(conversationID string) {
	c.emit(Event{Kind: EventStateChanged, ConversationID: conversationID})
}

func (c *Controller) noticef(format string, args ...any) {
	c.emit(Event{Kind: EventNotice, Notice: fmt.Sprintf(format, args...)})
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// persist mirrors a conversation into the offline cache.
func (c *Controller) persist(id string) {
	if c.cache == nil {
		return
	}
	if conv, ok := c.store.Get(id); ok {
		c.cache.SaveConversation(conv)
	}
}

// =============================================================================
// SEND
// =============================================================================

// Send submits the user's text on the active conversation's active
// stage, creating and activating a conversation when none is active.
// Attached file names are shown in the transcript but never become part
// of the prompt. Returns ErrBusy while a job is outstanding; backend
// failures surface as retry-bearing messages, not errors.
func (c *Controller) Send(content string, files []api.File) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message is empty")
	}

	conv, ok := c.store.Active()
	if !ok {
		conv = model.NewConversation(content)
		c.store.Add(conv)
		c.store.SetActive(conv.ID)
	}
	if conv.IsLoading {
		return ErrBusy
	}

	stage := conv.Active().AgentType

	display := content
	if len(files) > 0 {
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name
		}
		display += "\n\nAttached: " + strings.Join(names, ", ")
	}
	c.store.AppendMessage(conv.ID, stage, model.NewUserMessage(stage, display))
	c.store.SetLoading(conv.ID, true)
	c.changed(conv.ID)

	req := api.JobRequest{
		AgentType:              stage,
		Prompt:                 content,
		ConversationID:         conv.WireID(),
		AcceptedModelMessageID: conv.AcceptedModelMessageID,
		AcceptedCodeMessageID:  conv.AcceptedCodeMessageID,
		Files:                  files,
	}
	retry := model.Retry{
		Mode:                   model.RetrySend,
		AgentType:              stage,
		Prompt:                 content,
		ConversationID:         conv.WireID(),
		AcceptedModelMessageID: conv.AcceptedModelMessageID,
		AcceptedCodeMessageID:  conv.AcceptedCodeMessageID,
	}
	c.runJob(conv.ID, stage, req, retry, false)
	return nil
}

// runJob submits a job and polls it to resolution on a background
// goroutine. replace controls how a successful result lands: replace
// the stage's messages (auto-generate) or filter retry bubbles and
// append (send/retry).
func (c *Controller) runJob(conversationID string, stage model.AgentType, req api.JobRequest, retry model.Retry, replace bool) {
	if !c.begin() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	gen := c.polls.track(cancel)

	go func() {
		defer c.wg.Done()
		defer c.polls.releaseIf(gen)

		status, err := c.submitAndPoll(ctx, conversationID, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, api.ErrPollCanceled) {
				return
			}
			c.logf("job failed for conversation %s stage %s: %v", conversationID, stage, err)
			c.failStage(conversationID, stage, err, retry)
			return
		}
		c.resolveStage(conversationID, stage, status, replace)
	}()
}

// submitAndPoll submits the request and waits for the job to resolve.
func (c *Controller) submitAndPoll(ctx context.Context, conversationID string, req api.JobRequest) (*api.JobStatus, error) {
	submit, err := c.client.SubmitJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if submit.ConversationID != "" {
		c.store.SetBackendID(conversationID, submit.ConversationID)
	}

	poll := c.client.PollJob(ctx, submit.JobID, nil)
	return poll.Wait()
}

// resolveStage lands a successful job result in the store. It looks the
// conversation up by id; if it was deleted while the job ran, the
// result is dropped.
func (c *Controller) resolveStage(conversationID string, stage model.AgentType, status *api.JobStatus, replace bool) {
	msg := resultMessage(stage, status)

	if replace {
		c.store.ReplaceMessages(conversationID, stage, []model.Message{msg})
	} else {
		c.store.DropRetryMessagesAndAppend(conversationID, stage, msg)
	}
	c.store.SetLoading(conversationID, false)
	c.persist(conversationID)
	c.changed(conversationID)
}

// failStage records a job failure as a retry-bearing assistant message.
func (c *Controller) failStage(conversationID string, stage model.AgentType, err error, retry model.Retry) {
	content := "Request failed: " + err.Error()
	c.store.AppendMessage(conversationID, stage, model.NewRetryMessage(stage, content, retry))
	c.store.SetLoading(conversationID, false)
	c.changed(conversationID)
}

// resultMessage builds the assistant message for a completed job,
// decoding the visualization envelope for visualizer results.
func resultMessage(stage model.AgentType, status *api.JobStatus) model.Message {
	content := status.Answer
	var generated map[string]string
	if stage == model.AgentVisualizer {
		report := model.DecodeReport(content)
		content = report.Content
		generated = report.GeneratedFiles
	}
	msg := model.NewAssistantMessage(stage, content, status.MessageID)
	msg.GeneratedFiles = generated
	return msg
}

// =============================================================================
// ACCEPT AND AUTO-GENERATE
// =============================================================================

// Accept advances the pipeline past a stage using the given assistant
// message as the accepted artifact. When a next stage exists its
// generation is scheduled after the settle delay.
func (c *Controller) Accept(stage model.AgentType, msg model.Message) error {
	if msg.Role != model.RoleAssistant || !msg.CanAccept {
		return errors.New("message is not accept-eligible")
	}
	conv, ok := c.store.Active()
	if !ok {
		return errors.New("no active conversation")
	}
	if conv.Active().AgentType != stage {
		return errors.New("can only accept on the active stage")
	}

	c.store.Accept(conv.ID, stage, msg)

	next := stage.Next()
	if next == "" {
		c.persist(conv.ID)
		c.changed(conv.ID)
		return nil
	}

	// Loading goes up immediately so the user can't double-send into the
	// new stage during the settle window.
	c.store.SetLoading(conv.ID, true)
	c.persist(conv.ID)
	c.changed(conv.ID)

	id := conv.ID
	c.closeMu.Lock()
	if !c.closed {
		if c.settleTimer != nil {
			c.settleTimer.Stop()
		}
		c.settleTimer = time.AfterFunc(c.settle, func() {
			c.AutoGenerate(id, next)
		})
	}
	c.closeMu.Unlock()
	return nil
}

// AutoGenerate requests a stage's first result with no user text: a
// single-space prompt plus the accepted upstream ids. A successful
// result replaces the stage's messages.
func (c *Controller) AutoGenerate(conversationID string, stage model.AgentType) {
	conv, ok := c.store.Get(conversationID)
	if !ok {
		return
	}
	c.store.SetLoading(conversationID, true)

	req := api.JobRequest{
		AgentType:              stage,
		Prompt:                 " ",
		ConversationID:         conv.WireID(),
		AcceptedModelMessageID: conv.AcceptedModelMessageID,
		AcceptedCodeMessageID:  conv.AcceptedCodeMessageID,
	}
	retry := model.Retry{
		Mode:                   model.RetryAuto,
		AgentType:              stage,
		Prompt:                 " ",
		ConversationID:         conv.WireID(),
		AcceptedModelMessageID: conv.AcceptedModelMessageID,
		AcceptedCodeMessageID:  conv.AcceptedCodeMessageID,
	}
	c.runJob(conversationID, stage, req, retry, true)
}

// =============================================================================
// RETRY
// =============================================================================

// Retry reissues the failed request captured in a retry-bearing
// message. The original user turn is not re-appended; on success every
// retry bubble in the stage is removed before the result lands.
func (c *Controller) Retry(conversationID string, msg model.Message) error {
	if msg.Retry == nil {
		return errors.New("message carries no retry descriptor")
	}
	conv, ok := c.store.Get(conversationID)
	if !ok {
		return errors.New("conversation not found")
	}
	if conv.IsLoading {
		return ErrBusy
	}

	r := *msg.Retry
	c.polls.cancel()
	c.store.SetLoading(conversationID, true)
	c.changed(conversationID)

	// Re-read the wire id: the conversation may have been assigned a
	// backend id after the descriptor was captured.
	wireID := r.ConversationID
	if conv.WireID() != "" {
		wireID = conv.WireID()
	}

	req := api.JobRequest{
		AgentType:              r.AgentType,
		Prompt:                 r.Prompt,
		ConversationID:         wireID,
		AcceptedModelMessageID: r.AcceptedModelMessageID,
		AcceptedCodeMessageID:  r.AcceptedCodeMessageID,
	}
	c.runJob(conversationID, r.AgentType, req, r, r.Mode == model.RetryAuto)
	return nil
}

// =============================================================================
// NAVIGATION AND LIFECYCLE
// =============================================================================

// Navigate moves the active conversation's visible stage. Any stage
// that exists may be viewed, accepted or not.
func (c *Controller) Navigate(index int) {
	conv, ok := c.store.Active()
	if !ok {
		return
	}
	c.store.SetActiveSubChat(conv.ID, index)
	c.changed(conv.ID)
}

// CancelActive aborts any in-flight job and clears the loading flag on
// the active conversation. The abandoned job may still complete
// server-side; a later resume will pick its result up from history.
func (c *Controller) CancelActive() {
	c.polls.cancel()
	if conv, ok := c.store.Active(); ok && conv.IsLoading {
		c.store.SetLoading(conv.ID, false)
		c.changed(conv.ID)
	}
}

// NewConversation abandons the active conversation view and presents an
// empty pipeline. Any in-flight poll is cancelled.
func (c *Controller) NewConversation() {
	c.polls.cancel()
	c.store.ClearActive()
	c.changed("")
}

// Delete removes a conversation locally and best-effort server-side.
// The local removal happens regardless of the backend outcome.
func (c *Controller) Delete(ctx context.Context, conversationID string) {
	conv, ok := c.store.Get(conversationID)
	if !ok {
		return
	}
	if c.store.ActiveID() == conversationID {
		c.polls.cancel()
	}

	if conv.BackendID != "" {
		if err := c.client.DeleteConversation(ctx, conv.BackendID); err != nil {
			c.logf("backend delete failed for %s: %v", conv.BackendID, err)
			c.noticef("Server-side delete failed; conversation removed locally")
		}
	}

	c.store.Remove(conversationID)
	if c.cache != nil {
		c.cache.DeleteConversation(conversationID)
	}
	c.changed("")
}

// Refresh fetches the backend conversation listing into the store.
func (c *Controller) Refresh(ctx context.Context) error {
	records, err := c.client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh conversations: %w", err)
	}
	metas := make([]model.Meta, len(records))
	for i, rec := range records {
		metas[i] = model.Meta{
			ID:        rec.ID,
			BackendID: rec.ID,
			Title:     rec.Title,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	c.store.Hydrate(metas)
	c.changed("")
	return nil
}
