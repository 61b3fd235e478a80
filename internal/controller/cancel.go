// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"sync"
)

// =============================================================================
// POLL TRACKING (THREAD-SAFE)
// =============================================================================

// pollTracker holds the single cancellation slot for the one in-flight
// poll the client allows. Storing a new cancel function cancels the
// previous one first, so switching conversations or retrying can never
// leave two polls racing for the same sub-chat.
// IMPORTANT: must be held as a pointer to avoid copying the mutex.
type pollTracker struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	gen        uint64
}

func newPollTracker() *pollTracker {
	return &pollTracker{}
}

// track stores a new cancel function, cancelling any previous one, and
// returns a generation token for releaseIf.
func (t *pollTracker) track(fn context.CancelFunc) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
	t.cancelFunc = fn
	t.gen++
	return t.gen
}

// releaseIf cancels and clears the slot only when it still belongs to
// the caller's generation. A poll finishing after its slot was replaced
// must not cancel its successor.
func (t *pollTracker) releaseIf(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.cancelFunc == nil {
		return
	}
	t.cancelFunc()
	t.cancelFunc = nil
}

// cancel invokes the stored cancel function and clears the slot. Safe to
// call multiple times or with no cancel function set.
func (t *pollTracker) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelFunc != nil {
		t.cancelFunc()
		t.cancelFunc = nil
	}
}
