// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker provides the in-process worker pool that executes
// transformation jobs. Tasks are keyed; submitting an existing key returns
// the live handle instead of starting a second execution.
package worker

import (
	"sync"
)

// State is the execution state of a task handle.
type State string

const (
	// StatePending means the task is queued but has not started running.
	StatePending State = "pending"

	// StateRunning means the task is executing on a worker goroutine.
	StateRunning State = "running"

	// StateFinished means the task completed successfully.
	StateFinished State = "finished"

	// StateError means the task returned an error.
	StateError State = "error"

	// StateLost means the worker executing the task crashed after it was
	// registered. A retry can recover from this state.
	StateLost State = "lost"

	// StateCancelled means the task was cancelled before completion.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final for the current attempt.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateError, StateLost, StateCancelled:
		return true
	}
	return false
}

// Handle tracks one keyed task across its attempts.
type Handle struct {
	key  string
	task Task
	pool *Pool

	mu        sync.Mutex
	state     State
	result    string
	err       error
	callbacks []func(*Handle)
}

// Key returns the task key the handle was submitted under.
func (h *Handle) Key() string {
	return h.key
}

// State returns the current execution state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Result returns the task result and error of the latest attempt. The
// result is only meaningful once the state is terminal.
func (h *Handle) Result() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// OnDone registers fn to run on the worker goroutine whenever an attempt
// reaches a terminal state. If the handle is already terminal, fn runs
// immediately on the calling goroutine.
func (h *Handle) OnDone(fn func(*Handle)) {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		fn(h)
		return
	}
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
}

// Retry re-dispatches the task after a failed or lost attempt. It is a
// no-op while an attempt is pending or running, or after success.
func (h *Handle) Retry() {
	h.mu.Lock()
	if h.state != StateError && h.state != StateLost && h.state != StateCancelled {
		h.mu.Unlock()
		return
	}
	h.state = StatePending
	h.result = ""
	h.err = nil
	h.mu.Unlock()

	h.pool.dispatch(h)
}

// complete records the attempt outcome and fires registered callbacks.
func (h *Handle) complete(state State, result string, err error) {
	h.mu.Lock()
	h.state = state
	h.result = result
	h.err = err
	callbacks := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(h)
	}
}

func (h *Handle) markRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StatePending {
		return false
	}
	h.state = StateRunning
	return true
}
