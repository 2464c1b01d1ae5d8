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
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/transformd/internal/config"
	"github.com/tombee/transformd/internal/events"
	"github.com/tombee/transformd/internal/runner"
	"github.com/tombee/transformd/internal/worker"
	"github.com/tombee/transformd/internal/workflows"
	"github.com/tombee/transformd/pkg/errors"
)

// DefaultUser is the bucket for unauthenticated submissions. It always
// exists in the user index.
const DefaultUser = "default"

// Metrics receives queue lifecycle counters. All methods must be safe for
// concurrent use; a nil Metrics disables reporting.
type Metrics interface {
	OrderSubmitted()
	OrderDeduplicated()
	OrderCompleted()
	OrderFailed()
	OrdersEvicted(count int)
	SetActiveOrders(count int)
}

// QueueConfig wires the queue coordinator's collaborators.
type QueueConfig struct {
	Settings *config.Settings
	Service  *config.FileCache[*config.Service]
	Roles    *config.FileCache[config.Roles]
	Registry *workflows.Registry
	Pool     *worker.Pool
	Runner   *runner.Runner
	Recorder *events.Recorder
	Logger   *slog.Logger
	Metrics  Metrics
}

// Queue coordinates order admission, dedup, per-user indexing, query, and
// eviction. All exported methods are safe under concurrent HTTP requests.
type Queue struct {
	settings *config.Settings
	service  *config.FileCache[*config.Service]
	roles    *config.FileCache[config.Roles]
	registry *workflows.Registry
	pool     *worker.Pool
	runner   *runner.Runner
	recorder *events.Recorder
	logger   *slog.Logger
	metrics  Metrics

	mu      sync.Mutex
	orders  map[string]*Order
	byUser  map[string]map[string]bool
	byOrder map[string]map[string]bool
}

// NewQueue creates an empty queue.
func NewQueue(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		settings: cfg.Settings,
		service:  cfg.Service,
		roles:    cfg.Roles,
		registry: cfg.Registry,
		pool:     cfg.Pool,
		runner:   cfg.Runner,
		recorder: cfg.Recorder,
		logger:   logger,
		metrics:  cfg.Metrics,
		orders:   make(map[string]*Order),
		byUser:   map[string]map[string]bool{DefaultUser: {}},
		byOrder:  make(map[string]map[string]bool),
	}
}

// SubmitRequest is one order submission.
type SubmitRequest struct {
	UserID    string
	UserRoles []string

	WorkflowID            string
	InputProductReference InputProductReference
	WorkflowOptions       map[string]any
}

// Submit admits one order: quota, workflow lookup, product-name check,
// option defaulting, dedup. The returned bool is true when a new order was
// created and false on a dedup hit.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (Info, bool, error) {
	if req.UserID == "" {
		req.UserID = DefaultUser
	}

	svc, err := q.service.Get()
	if err != nil {
		return Info{}, false, err
	}

	// eviction is fire-and-forget on every submit
	go q.Evict()

	quotaEnabled := svc.QuotaCheckEnabled()
	var userCap int
	if quotaEnabled {
		userCap, err = q.userCap(req.UserID, req.UserRoles)
		if err != nil {
			return Info{}, false, err
		}
		if running := q.countRunning(req.UserID); running >= userCap {
			return Info{}, false, &errors.QuotaError{UserID: req.UserID, Running: running, Cap: userCap}
		}
	}

	descriptor, err := q.registry.ByID(req.WorkflowID)
	if err != nil {
		return Info{}, false, err
	}
	if svc.WorkflowExcluded(req.WorkflowID) {
		return Info{}, false, &errors.ForbiddenError{
			Resource: "workflow " + req.WorkflowID,
			Reason:   "the workflow is disabled by the service configuration",
		}
	}

	if req.InputProductReference.Reference == "" {
		return Info{}, false, &errors.ValidationError{
			Field:   "InputProductReference",
			Message: "Reference is required",
		}
	}
	if err := workflows.CheckProductConsistency(
		descriptor.InputProductType, req.InputProductReference.Reference, req.WorkflowID); err != nil {
		return Info{}, false, err
	}

	options, err := descriptor.ResolveOptions(req.WorkflowOptions)
	if err != nil {
		return Info{}, false, err
	}

	traceEnabled := svc.TraceabilityEnabled() &&
		!svc.WorkflowUntraced(req.WorkflowID) &&
		descriptor.Traceable()

	orderID := ComputeOrderID(req.WorkflowID, req.InputProductReference, options, traceEnabled)

	q.mu.Lock()
	if existing, ok := q.orders[orderID]; ok {
		q.attachUser(orderID, req.UserID)
		q.mu.Unlock()

		existing.MaybeResubmit()
		if q.metrics != nil {
			q.metrics.OrderDeduplicated()
		}
		q.logger.Info("order deduplicated",
			"order_id", orderID, "user", req.UserID, "workflow", req.WorkflowID)
		return existing.Info(q.settings.URIRoot), false, nil
	}

	// the quota check above ran without the lock; re-check here so two
	// concurrent submissions cannot both take the last slot
	if quotaEnabled {
		if running := q.countRunningLocked(req.UserID); running >= userCap {
			q.mu.Unlock()
			return Info{}, false, &errors.QuotaError{UserID: req.UserID, Running: running, Cap: userCap}
		}
	}

	job := runner.Job{
		OrderID:      orderID,
		UserID:       req.UserID,
		Workflow:     descriptor,
		Product:      req.InputProductReference.Reference,
		PreferredHub: req.InputProductReference.DataSourceName,
		Options:      options,
		TraceEnabled: traceEnabled,
	}
	task := func(ctx context.Context) (string, error) {
		result, err := q.runner.Run(ctx, job)
		if q.metrics != nil {
			if err != nil {
				q.metrics.OrderFailed()
			} else {
				q.metrics.OrderCompleted()
			}
		}
		return result, err
	}

	order := NewOrder(orderID, req.WorkflowID, descriptor.WorkflowName,
		req.InputProductReference, options, q.pool, task, q.recorder, q.settings.OutputDir)
	q.orders[orderID] = order
	q.attachUser(orderID, req.UserID)
	active := len(q.orders)
	q.mu.Unlock()

	order.Submit()
	if q.metrics != nil {
		q.metrics.OrderSubmitted()
		q.metrics.SetActiveOrders(active)
	}
	q.logger.Info("order submitted",
		"order_id", orderID, "user", req.UserID, "workflow", req.WorkflowID,
		"product", req.InputProductReference.Reference)
	return order.Info(q.settings.URIRoot), true, nil
}

// attachUser links an order to a user in both inverse indexes. Callers hold
// the queue mutex.
func (q *Queue) attachUser(orderID, userID string) {
	if q.byUser[userID] == nil {
		q.byUser[userID] = make(map[string]bool)
	}
	q.byUser[userID][orderID] = true
	if q.byOrder[orderID] == nil {
		q.byOrder[orderID] = make(map[string]bool)
	}
	q.byOrder[orderID][userID] = true
}

// userCap resolves the user's quota from their roles: the maximum over the
// mapped roles, or the default role's quota when none map. Unknown roles are
// warned about and skipped.
func (q *Queue) userCap(userID string, userRoles []string) (int, error) {
	roles, err := q.roles.Get()
	if err != nil {
		return 0, err
	}

	userCap := 0
	mapped := false
	for _, role := range userRoles {
		if role == "" {
			continue
		}
		entry, ok := roles[role]
		if !ok {
			q.logger.Warn("unknown role ignored", "role", role, "user", userID)
			continue
		}
		mapped = true
		if entry.Quota > userCap {
			userCap = entry.Quota
		}
	}
	if !mapped {
		userCap = roles.Default().Quota
	}
	return userCap, nil
}

// countRunning counts the user's orders in queued or in_progress status.
func (q *Queue) countRunning(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countRunningLocked(userID)
}

// countRunningLocked is countRunning for callers already holding the queue
// mutex. Order.Status only takes the order's own mutex, never the queue's.
func (q *Queue) countRunningLocked(userID string) int {
	running := 0
	for orderID := range q.byUser[userID] {
		order, ok := q.orders[orderID]
		if !ok {
			continue
		}
		switch order.Status() {
		case StatusQueued, StatusInProgress:
			running++
		}
	}
	return running
}

// URIRoot returns the external base URI download links are built against.
func (q *Queue) URIRoot() string {
	return q.settings.URIRoot
}

// Get returns one order by id.
func (q *Queue) Get(orderID string) (*Order, error) {
	q.mu.Lock()
	order, ok := q.orders[orderID]
	q.mu.Unlock()
	if !ok {
		return nil, &errors.NotFoundError{Resource: "transformation order", ID: orderID}
	}
	return order, nil
}

// List returns order views matching every filter. With includeAll true the
// whole queue is visible, otherwise only the user's orders.
func (q *Queue) List(filters []Filter, userID string, includeAll bool) ([]Info, error) {
	for _, filter := range filters {
		if err := filter.Validate(); err != nil {
			return nil, err
		}
	}
	if userID == "" {
		userID = DefaultUser
	}

	q.mu.Lock()
	var candidates []*Order
	if includeAll {
		candidates = make([]*Order, 0, len(q.orders))
		for _, order := range q.orders {
			candidates = append(candidates, order)
		}
	} else {
		for orderID := range q.byUser[userID] {
			if order, ok := q.orders[orderID]; ok {
				candidates = append(candidates, order)
			}
		}
	}
	q.mu.Unlock()

	infos := make([]Info, 0, len(candidates))
	for _, order := range candidates {
		matched := true
		for _, filter := range filters {
			if !filter.Match(order) {
				matched = false
				break
			}
		}
		if matched {
			infos = append(infos, order.Info(q.settings.URIRoot))
		}
	}
	return infos, nil
}

// Evict removes orders whose completion is older than the configured
// keeping period. Unfinished orders are never evicted. The evicted order
// ids are returned.
func (q *Queue) Evict() []string {
	svc, err := q.service.Get()
	if err != nil {
		q.logger.Warn("eviction skipped, service config unavailable", "error", err)
		return nil
	}
	keepingPeriod := time.Duration(svc.KeepingPeriod) * time.Minute
	now := time.Now()

	q.mu.Lock()
	var expired []*Order
	for _, order := range q.orders {
		completed, ok := order.CompletedTime()
		if !ok {
			continue
		}
		if now.Sub(completed) > keepingPeriod {
			expired = append(expired, order)
		}
	}

	evicted := make([]string, 0, len(expired))
	for _, order := range expired {
		orderID := order.ID()
		delete(q.orders, orderID)
		for userID := range q.byOrder[orderID] {
			delete(q.byUser[userID], orderID)
		}
		delete(q.byOrder, orderID)
		evicted = append(evicted, orderID)
	}
	active := len(q.orders)
	q.mu.Unlock()

	for _, order := range expired {
		q.pool.Forget(order.HandleKey())
		q.recorder.Forget(context.Background(), order.ID())
	}
	if len(evicted) > 0 {
		q.logger.Info("orders evicted", "count", len(evicted))
		if q.metrics != nil {
			q.metrics.OrdersEvicted(len(evicted))
			q.metrics.SetActiveOrders(active)
		}
	}
	return evicted
}
