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

// Package orders holds the transformation order lifecycle object and the
// queue coordinator that admits, deduplicates, indexes, and evicts orders.
package orders

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/transformd/internal/events"
	"github.com/tombee/transformd/internal/worker"
)

// Order status values exposed through the API.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ContentDate bounds the sensing period of an input product.
type ContentDate struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

// InputProductReference identifies the product an order transforms.
type InputProductReference struct {
	Reference      string       `json:"Reference"`
	DataSourceName string       `json:"DataSourceName,omitempty"`
	ContentDate    *ContentDate `json:"ContentDate,omitempty"`
}

// OutputProductReference points at a produced output product.
type OutputProductReference struct {
	Reference   string `json:"Reference"`
	DownloadURI string `json:"DownloadURI,omitempty"`
}

// Info is the API view of an order.
type Info struct {
	Id                     string                   `json:"Id"`
	SubmissionDate         string                   `json:"SubmissionDate,omitempty"`
	CompletedDate          string                   `json:"CompletedDate,omitempty"`
	InputProductReference  InputProductReference    `json:"InputProductReference"`
	WorkflowOptions        map[string]any           `json:"WorkflowOptions"`
	WorkflowId             string                   `json:"WorkflowId"`
	WorkflowName           string                   `json:"WorkflowName"`
	Status                 string                   `json:"Status"`
	OutputProductReference []OutputProductReference `json:"OutputProductReference,omitempty"`
}

// Order is one transformation order. Mutations go through the order's own
// mutex; the queue only holds references.
type Order struct {
	id           string
	workflowID   string
	workflowName string
	inputRef     InputProductReference
	options      map[string]any

	pool     *worker.Pool
	task     worker.Task
	recorder *events.Recorder

	// outputDir is the published output root used to check whether a
	// completed order's file still exists.
	outputDir string

	mu             sync.Mutex
	handle         *worker.Handle
	handleKey      string
	submissionDate time.Time
	completedDate  *time.Time
	outputRelPath  string
}

// NewOrder builds an order ready for submission. task runs the job and
// returns the output path relative to the output dir.
func NewOrder(id, workflowID, workflowName string, inputRef InputProductReference, options map[string]any, pool *worker.Pool, task worker.Task, recorder *events.Recorder, outputDir string) *Order {
	return &Order{
		id:           id,
		workflowID:   workflowID,
		workflowName: workflowName,
		inputRef:     inputRef,
		options:      options,
		pool:         pool,
		task:         task,
		recorder:     recorder,
		outputDir:    outputDir,
	}
}

// ID returns the deterministic order identifier.
func (o *Order) ID() string {
	return o.id
}

// HandleKey returns the worker task key of the current attempt.
func (o *Order) HandleKey() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handleKey
}

// Submit dispatches the order's task keyed by the order id and stamps the
// submission date.
func (o *Order) Submit() {
	o.mu.Lock()
	o.submissionDate = time.Now()
	o.handleKey = o.id
	o.mu.Unlock()

	handle := o.pool.Submit(o.id, o.task)
	o.mu.Lock()
	o.handle = handle
	o.mu.Unlock()
	handle.OnDone(o.addCompletedInfo)
}

// addCompletedInfo runs on the worker goroutine when an attempt finishes.
func (o *Order) addCompletedInfo(h *worker.Handle) {
	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completedDate = &now
	if h.State() == worker.StateFinished {
		result, _ := h.Result()
		o.outputRelPath = result
	}
}

// MaybeResubmit re-runs the order when it failed, or when it completed but
// its output file no longer exists on disk. Anything else is a no-op.
func (o *Order) MaybeResubmit() {
	switch status := o.Status(); status {
	case StatusFailed:
		o.mu.Lock()
		o.completedDate = nil
		o.outputRelPath = ""
		o.submissionDate = time.Now()
		handle := o.handle
		o.mu.Unlock()

		handle.Retry()
		handle.OnDone(o.addCompletedInfo)

	case StatusCompleted:
		o.mu.Lock()
		outputPath := filepath.Join(o.outputDir, o.outputRelPath)
		rel := o.outputRelPath
		o.mu.Unlock()
		if rel == "" {
			return
		}
		if _, err := os.Stat(outputPath); err == nil {
			return
		}

		// force a fresh execution with a distinct task key; the superseded
		// attempt is released so the order holds exactly one pool key
		key := o.id + "-" + uuid.NewString()
		o.mu.Lock()
		oldKey := o.handleKey
		o.completedDate = nil
		o.outputRelPath = ""
		o.submissionDate = time.Now()
		o.handleKey = key
		o.mu.Unlock()

		o.pool.Forget(oldKey)
		handle := o.pool.Submit(key, o.task)
		o.mu.Lock()
		o.handle = handle
		o.mu.Unlock()
		handle.OnDone(o.addCompletedInfo)
	}
}

// Status projects the worker state onto the API status values.
func (o *Order) Status() string {
	o.mu.Lock()
	handle := o.handle
	o.mu.Unlock()
	if handle == nil {
		return StatusQueued
	}
	switch handle.State() {
	case worker.StatePending:
		return StatusQueued
	case worker.StateRunning, worker.StateCancelled:
		return StatusInProgress
	case worker.StateFinished:
		return StatusCompleted
	default:
		// error and lost both surface as failed so a resubmit can recover
		return StatusFailed
	}
}

// SubmissionTime returns the latest submission timestamp.
func (o *Order) SubmissionTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submissionDate
}

// CompletedTime returns the completion timestamp of the latest attempt.
func (o *Order) CompletedTime() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.completedDate == nil {
		return time.Time{}, false
	}
	return *o.completedDate, true
}

// WorkflowID returns the workflow the order runs.
func (o *Order) WorkflowID() string {
	return o.workflowID
}

// Reference returns the input product reference name.
func (o *Order) Reference() string {
	return o.inputRef.Reference
}

// Info builds the API view, re-projecting the status and re-deriving the
// download URI against the current URI root.
func (o *Order) Info(uriRoot string) Info {
	status := o.Status()

	o.mu.Lock()
	defer o.mu.Unlock()

	info := Info{
		Id:                    o.id,
		InputProductReference: o.inputRef,
		WorkflowOptions:       o.options,
		WorkflowId:            o.workflowID,
		WorkflowName:          o.workflowName,
		Status:                status,
	}
	if !o.submissionDate.IsZero() {
		info.SubmissionDate = o.submissionDate.UTC().Format(time.RFC3339)
	}
	if o.completedDate != nil {
		info.CompletedDate = o.completedDate.UTC().Format(time.RFC3339)
	}
	if status == StatusCompleted && o.outputRelPath != "" {
		basepath, reference := filepath.Split(o.outputRelPath)
		ref := OutputProductReference{Reference: reference}
		if uriRoot != "" {
			ref.DownloadURI = uriRoot + "download/" + filepath.Join(basepath, reference)
		}
		info.OutputProductReference = []OutputProductReference{ref}
	}
	return info
}

// Log returns the chronologically ordered events the order's runs emitted.
func (o *Order) Log(ctx context.Context) ([]events.Event, error) {
	return o.recorder.List(ctx, o.id)
}
