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

package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/transformd/internal/events"
	"github.com/tombee/transformd/internal/worker"
)

type orderEnv struct {
	pool      *worker.Pool
	recorder  *events.Recorder
	outputDir string
}

func newOrderEnv(t *testing.T) *orderEnv {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := events.NewStore(events.Config{Path: filepath.Join(root, "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool := worker.NewPool(2, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	return &orderEnv{
		pool:      pool,
		recorder:  events.NewRecorder(store, logger),
		outputDir: filepath.Join(root, "output"),
	}
}

func (e *orderEnv) newOrder(id string, task worker.Task) *Order {
	return NewOrder(id, "wf_a", "Workflow A",
		InputProductReference{Reference: "S2A_MSIL1C_X.zip"},
		map[string]any{"Resolution": 60}, e.pool, task, e.recorder, e.outputDir)
}

// publish writes the file a finished task reports so the order's output
// check finds it on disk.
func (e *orderEnv) publish(t *testing.T, relPath string) {
	t.Helper()
	path := filepath.Join(e.outputDir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("output"), 0o644))
}

// waitOrderStatus waits for the status projection and, for terminal
// statuses, for the completion callback to have stamped the order.
func waitOrderStatus(t *testing.T, o *Order, status string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if o.Status() != status {
			return false
		}
		if status == StatusCompleted || status == StatusFailed {
			_, ok := o.CompletedTime()
			return ok
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestOrderLifecycle(t *testing.T) {
	e := newOrderEnv(t)

	release := make(chan struct{})
	o := e.newOrder("order-1", func(ctx context.Context) (string, error) {
		<-release
		return "order-1/out.zip", nil
	})

	// not yet dispatched
	assert.Equal(t, StatusQueued, o.Status())
	assert.True(t, o.SubmissionTime().IsZero())

	o.Submit()
	waitOrderStatus(t, o, StatusInProgress)
	assert.False(t, o.SubmissionTime().IsZero())
	assert.Equal(t, "order-1", o.HandleKey())

	// no completion date while the task runs
	info := o.Info("http://files.example/")
	assert.Equal(t, StatusInProgress, info.Status)
	assert.Empty(t, info.CompletedDate)
	assert.Empty(t, info.OutputProductReference)

	close(release)
	waitOrderStatus(t, o, StatusCompleted)

	_, ok := o.CompletedTime()
	assert.True(t, ok)
	info = o.Info("http://files.example/")
	assert.NotEmpty(t, info.CompletedDate)
	require.Len(t, info.OutputProductReference, 1)
	assert.Equal(t, "out.zip", info.OutputProductReference[0].Reference)
	assert.Equal(t, "http://files.example/download/order-1/out.zip",
		info.OutputProductReference[0].DownloadURI)
}

func TestOrderFailureProjectsAsFailed(t *testing.T) {
	e := newOrderEnv(t)

	o := e.newOrder("order-1", func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("no product found")
	})
	o.Submit()
	waitOrderStatus(t, o, StatusFailed)

	// a failed order carries a completion date but no output reference
	info := o.Info("")
	assert.NotEmpty(t, info.CompletedDate)
	assert.Empty(t, info.OutputProductReference)
}

func TestMaybeResubmitRetriesFailedOrder(t *testing.T) {
	e := newOrderEnv(t)

	var attempts atomic.Int32
	o := e.newOrder("order-1", func(ctx context.Context) (string, error) {
		if attempts.Add(1) == 1 {
			return "", fmt.Errorf("transient")
		}
		return "order-1/out.zip", nil
	})
	o.Submit()
	waitOrderStatus(t, o, StatusFailed)
	failedAt, ok := o.CompletedTime()
	require.True(t, ok)

	o.MaybeResubmit()
	waitOrderStatus(t, o, StatusCompleted)

	assert.Equal(t, int32(2), attempts.Load())
	// the retry keeps the order id as the task key
	assert.Equal(t, "order-1", o.HandleKey())
	completedAt, ok := o.CompletedTime()
	require.True(t, ok)
	assert.True(t, completedAt.After(failedAt) || completedAt.Equal(failedAt))
}

func TestMaybeResubmitNoopWhileRunning(t *testing.T) {
	e := newOrderEnv(t)

	var runs atomic.Int32
	release := make(chan struct{})
	o := e.newOrder("order-1", func(ctx context.Context) (string, error) {
		runs.Add(1)
		<-release
		return "order-1/out.zip", nil
	})
	o.Submit()
	waitOrderStatus(t, o, StatusInProgress)

	o.MaybeResubmit()
	assert.Equal(t, StatusInProgress, o.Status())

	close(release)
	waitOrderStatus(t, o, StatusCompleted)
	assert.Equal(t, int32(1), runs.Load())
}

func TestMaybeResubmitNoopWhenOutputPresent(t *testing.T) {
	e := newOrderEnv(t)

	var runs atomic.Int32
	o := e.newOrder("order-1", func(ctx context.Context) (string, error) {
		runs.Add(1)
		return "order-1/out.zip", nil
	})
	e.publish(t, "order-1/out.zip")

	o.Submit()
	waitOrderStatus(t, o, StatusCompleted)

	o.MaybeResubmit()
	assert.Equal(t, StatusCompleted, o.Status())
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, "order-1", o.HandleKey())
}

func TestMaybeResubmitRerunsWhenOutputMissing(t *testing.T) {
	e := newOrderEnv(t)

	var runs atomic.Int32
	o := e.newOrder("order-1", func(ctx context.Context) (string, error) {
		runs.Add(1)
		return "order-1/out.zip", nil
	})

	o.Submit()
	waitOrderStatus(t, o, StatusCompleted)
	require.Equal(t, int32(1), runs.Load())

	// nothing was ever published under the output dir, so the completed
	// order no longer backs its download link
	o.MaybeResubmit()
	waitOrderStatus(t, o, StatusCompleted)

	assert.Equal(t, int32(2), runs.Load())
	// the rerun gets a fresh task key derived from the order id, and the
	// first attempt's handle is gone from the pool
	key := o.HandleKey()
	assert.NotEqual(t, "order-1", key)
	assert.True(t, len(key) > len("order-1") && key[:len("order-1")+1] == "order-1-")
	_, ok := e.pool.Get("order-1")
	assert.False(t, ok)
	_, ok = e.pool.Get(key)
	assert.True(t, ok)
}

func TestOrderLogListsRecordedEvents(t *testing.T) {
	e := newOrderEnv(t)
	ctx := context.Background()

	o := e.newOrder("order-1", func(ctx context.Context) (string, error) {
		return "order-1/out.zip", nil
	})
	e.recorder.Record(ctx, "order-1", "info", "start processing", nil)
	e.recorder.Record(ctx, "order-1", "info", "done", nil)

	log, err := o.Log(ctx)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "start processing", log[0].Message)
}
