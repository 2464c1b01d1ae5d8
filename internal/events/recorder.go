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

package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Recorder persists order events and fans them out to live subscribers.
// A slow or abandoned subscriber never blocks the worker; events it cannot
// absorb are dropped from its channel only.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string][]chan Event
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:       store,
		logger:      logger,
		subscribers: make(map[string][]chan Event),
	}
}

// Record appends one event and notifies subscribers. Storage failures are
// logged and swallowed so event recording never fails a running order.
func (r *Recorder) Record(ctx context.Context, orderID, level, message string, attrs map[string]any) {
	event := Event{
		OrderID: orderID,
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Attrs:   attrs,
	}

	if err := r.store.Append(ctx, event); err != nil {
		r.logger.Warn("failed to persist order event",
			"order_id", orderID, "error", err)
	}

	r.mu.Lock()
	subs := r.subscribers[orderID]
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel delivering future events for orderID and a
// cancel function that must be called when done.
func (r *Recorder) Subscribe(orderID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	r.mu.Lock()
	r.subscribers[orderID] = append(r.subscribers[orderID], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subscribers[orderID]
		for i, sub := range subs {
			if sub == ch {
				r.subscribers[orderID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(r.subscribers[orderID]) == 0 {
			delete(r.subscribers, orderID)
		}
	}
	return ch, cancel
}

// List returns the chronologically ordered events of an order.
func (r *Recorder) List(ctx context.Context, orderID string) ([]Event, error) {
	return r.store.List(ctx, orderID)
}

// Forget drops the stored events of an evicted order.
func (r *Recorder) Forget(ctx context.Context, orderID string) {
	if err := r.store.DeleteOrder(ctx, orderID); err != nil {
		r.logger.Warn("failed to delete order events",
			"order_id", orderID, "error", err)
	}
}

// Logger returns a logger that writes both to the process log and, tagged
// with the order id, to the event store.
func (r *Recorder) Logger(orderID string) *slog.Logger {
	return slog.New(&teeHandler{
		recorder: r,
		orderID:  orderID,
		next:     r.logger.With("order_id", orderID).Handler(),
	})
}

// teeHandler duplicates slog records into the event recorder.
type teeHandler struct {
	recorder *Recorder
	orderID  string
	next     slog.Handler
	attrs    []slog.Attr
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	// Always record order events, even below the process log level.
	return true
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		attrs[attr.Key] = attr.Value.Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.Any()
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.recorder.Record(ctx, h.orderID,
		strings.ToLower(record.Level.String()), record.Message, attrs)

	if h.next.Enabled(ctx, record.Level) {
		return h.next.Handle(ctx, record)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &teeHandler{
		recorder: h.recorder,
		orderID:  h.orderID,
		next:     h.next.WithAttrs(attrs),
		attrs:    merged,
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		recorder: h.recorder,
		orderID:  h.orderID,
		next:     h.next.WithGroup(name),
		attrs:    h.attrs,
	}
}
