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

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is a unit of work executed on the pool. It returns the produced
// result path.
type Task func(ctx context.Context) (string, error)

// Pool executes keyed tasks with bounded parallelism. At most one attempt
// per key runs at a time; submitting a key that already has a handle
// returns that handle.
type Pool struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewPool creates a pool running at most maxParallel tasks concurrently.
func NewPool(maxParallel int, logger *slog.Logger) *Pool {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(int64(maxParallel)),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
}

// Submit registers task under key and dispatches it. If a handle for key
// already exists, it is returned unchanged and task is ignored.
func (p *Pool) Submit(key string, task Task) *Handle {
	p.mu.Lock()
	if existing, ok := p.handles[key]; ok {
		p.mu.Unlock()
		return existing
	}
	h := &Handle{
		key:   key,
		task:  task,
		pool:  p,
		state: StatePending,
	}
	if p.closed {
		p.mu.Unlock()
		h.complete(StateCancelled, "", context.Canceled)
		return h
	}
	p.handles[key] = h
	p.mu.Unlock()

	p.dispatch(h)
	return h
}

// Get returns the handle registered under key, if any.
func (p *Pool) Get(key string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[key]
	return h, ok
}

// Forget drops the handle registered under key. Running attempts are
// unaffected; the handle simply becomes unreachable through the pool.
func (p *Pool) Forget(key string) {
	p.mu.Lock()
	delete(p.handles, key)
	p.mu.Unlock()
}

// dispatch runs one attempt of h on a worker goroutine.
func (p *Pool) dispatch(h *Handle) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			h.complete(StateCancelled, "", err)
			return
		}
		defer p.sem.Release(1)

		if !h.markRunning() {
			return
		}
		p.runAttempt(h)
	}()
}

// runAttempt executes the task, converting panics into the lost state so a
// crashed worker can be recovered by a later retry.
func (p *Pool) runAttempt(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker crashed",
				"task", h.key, "panic", fmt.Sprint(r))
			h.complete(StateLost, "", fmt.Errorf("worker crashed: %v", r))
		}
	}()

	result, err := h.task(p.ctx)
	switch {
	case err == nil:
		h.complete(StateFinished, result, nil)
	case p.ctx.Err() != nil:
		h.complete(StateCancelled, "", err)
	default:
		h.complete(StateError, "", err)
	}
}

// Shutdown cancels running tasks and waits for workers to drain, or until
// ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
