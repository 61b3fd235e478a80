// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"errors"

	"github.com/jeranaias/optiq-tui/internal/api"
	"github.com/jeranaias/optiq-tui/internal/model"
)

// =============================================================================
// SESSION RESUME RECONCILIATION
// =============================================================================

// Select activates a conversation and reconciles its local state with
// the backend. Jobs outlive client sessions, so the backend's view of
// an in-flight job wins over whatever the local store remembers:
//
//  1. the in-flight poll slot is released (conversation switch),
//  2. the backend job status is queried when a backend id is known,
//  3. a still-running job marks the conversation loading,
//  4. a backend that went idle while we thought we were loading forces
//     a history refresh,
//  5. all three stages are hydrated when messages were never loaded (or
//     a refresh was forced), inferring the active stage,
//  6. a recorded error with no visible retry affordance synthesizes one,
//  7. a recovered job id resumes polling through the tracked slot.
//
// Steps run sequentially; status fetch failures surface as notices and
// skip the status-dependent steps without fabricating retry bubbles.
func (c *Controller) Select(ctx context.Context, conversationID string) error {
	c.polls.cancel()

	conv, ok := c.store.Get(conversationID)
	if !ok {
		return errors.New("conversation not found")
	}
	c.store.SetActive(conversationID)
	c.changed(conversationID)

	if conv.BackendID == "" {
		return nil
	}

	status, err := c.client.GetConversationStatus(ctx, conv.BackendID)
	if err != nil {
		c.logf("status fetch failed for %s: %v", conv.BackendID, err)
		c.noticef("Could not verify conversation status")
		// Without backend status we can still show persisted history.
		if !conv.HasMessages() {
			c.hydrateHistory(ctx, conversationID, conv.BackendID)
		}
		return nil
	}

	if status.IsLoading {
		c.store.SetLoading(conversationID, true)
	}

	forceRefresh := false
	if !status.IsLoading && conv.IsLoading {
		// The job finished while we were away; the local transcript is
		// stale and the loading flag is a lie.
		c.store.SetLoading(conversationID, false)
		forceRefresh = true
	}

	if !conv.HasMessages() || forceRefresh {
		c.hydrateHistory(ctx, conversationID, conv.BackendID)
	}

	if status.HadError {
		c.synthesizeRetry(conversationID)
	}

	if status.IsLoading && status.JobID != "" {
		c.resumePoll(conversationID, status.JobID)
	}

	c.changed(conversationID)
	return nil
}

// hydrateHistory loads every stage's persisted messages and rebuilds
// the conversation's pipeline view: the last stage holding messages
// becomes active, and each earlier stage is marked accepted with its
// last assistant message.
func (c *Controller) hydrateHistory(ctx context.Context, conversationID, backendID string) {
	stages := make([][]model.Message, len(model.Pipeline))
	for i, stage := range model.Pipeline {
		history, err := c.client.GetHistory(ctx, backendID, stage)
		if err != nil {
			c.logf("history fetch failed for %s stage %s: %v", backendID, stage, err)
			c.noticef("Could not load %s history", stage.DisplayName())
			continue
		}
		stages[i] = historyMessages(stage, history)
	}

	c.store.Update(conversationID, func(conv model.Conversation) model.Conversation {
		subChats := make([]model.SubChat, 0, len(model.Pipeline))
		last := 0
		for i, stage := range model.Pipeline {
			sc := model.NewSubChat(stage)
			sc.Messages = stages[i]
			if len(sc.Messages) > 0 {
				last = i
			}
			subChats = append(subChats, sc)
		}

		// Stages before the active one must have been accepted to get
		// there; their accepted artifact is their last assistant message.
		for i := 0; i < last; i++ {
			if msg, ok := lastAssistant(subChats[i].Messages); ok {
				accepted := msg
				subChats[i].AcceptedMessage = &accepted
				switch subChats[i].AgentType {
				case model.AgentModeler:
					conv.AcceptedModelMessageID = msg.ID
				case model.AgentCoder:
					conv.AcceptedCodeMessageID = msg.ID
				}
			}
		}

		// Trailing empty stages are not part of the pipeline yet.
		conv.SubChats = subChats[:last+1]
		conv.ActiveSubChat = last
		return conv
	})
	c.persist(conversationID)
}

// historyMessages converts persisted backend messages into transcript
// messages, decoding visualization envelopes.
func historyMessages(stage model.AgentType, history *api.History) []model.Message {
	msgs := make([]model.Message, 0, len(history.Messages))
	for _, hm := range history.Messages {
		var msg model.Message
		if hm.Role == model.RoleUser.String() {
			msg = model.NewUserMessage(stage, hm.Content)
			if hm.ID != "" {
				msg.ID = hm.ID
			}
		} else {
			content := hm.Content
			var generated map[string]string
			if stage == model.AgentVisualizer {
				report := model.DecodeReport(content)
				content = report.Content
				generated = report.GeneratedFiles
			}
			msg = model.NewAssistantMessage(stage, content, hm.ID)
			msg.GeneratedFiles = generated
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func lastAssistant(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

// synthesizeRetry appends an error bubble with an auto-mode retry
// descriptor when the backend recorded a failure but the local
// transcript shows no retry affordance.
func (c *Controller) synthesizeRetry(conversationID string) {
	conv, ok := c.store.Get(conversationID)
	if !ok {
		return
	}
	active := conv.Active()
	if msg, ok := active.LastMessage(); ok && msg.IsRetryable() {
		return
	}

	stage := active.AgentType
	retry := model.Retry{
		Mode:                   model.RetryAuto,
		AgentType:              stage,
		Prompt:                 " ",
		ConversationID:         conv.WireID(),
		AcceptedModelMessageID: conv.AcceptedModelMessageID,
		AcceptedCodeMessageID:  conv.AcceptedCodeMessageID,
	}
	c.store.AppendMessage(conversationID, stage,
		model.NewRetryMessage(stage, "The last request failed while you were away.", retry))
}

// resumePoll re-attaches to a job that was running when the session
// ended. The destination sub-chat is re-read at resolution time: the
// pipeline may have advanced since the poll started.
func (c *Controller) resumePoll(conversationID, jobID string) {
	if !c.begin() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	gen := c.polls.track(cancel)

	go func() {
		defer c.wg.Done()
		defer c.polls.releaseIf(gen)

		poll := c.client.PollJob(ctx, jobID, nil)
		status, err := poll.Wait()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, api.ErrPollCanceled) {
				return
			}
			c.logf("resumed poll failed for job %s: %v", jobID, err)
			c.failActiveStage(conversationID, err)
			return
		}

		conv, ok := c.store.Get(conversationID)
		if !ok {
			return
		}
		stage := conv.Active().AgentType
		c.resolveStage(conversationID, stage, status, false)
	}()
}

// failActiveStage lands a resumed-poll failure on whatever stage is
// active when it resolves.
func (c *Controller) failActiveStage(conversationID string, err error) {
	conv, ok := c.store.Get(conversationID)
	if !ok {
		return
	}
	stage := conv.Active().AgentType
	retry := model.Retry{
		Mode:                   model.RetryAuto,
		AgentType:              stage,
		Prompt:                 " ",
		ConversationID:         conv.WireID(),
		AcceptedModelMessageID: conv.AcceptedModelMessageID,
		AcceptedCodeMessageID:  conv.AcceptedCodeMessageID,
	}
	c.failStage(conversationID, stage, err, retry)
}
