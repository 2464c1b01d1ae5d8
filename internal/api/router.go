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

// Package api provides the HTTP/OData API for the daemon.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/transformd/internal/config"
	"github.com/tombee/transformd/internal/orders"
	"github.com/tombee/transformd/internal/workflows"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string

	RateLimit RateLimitConfig
}

// MetricsHandler provides a Prometheus metrics endpoint.
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Router wraps an http.ServeMux with the OData surface and middleware.
type Router struct {
	mux            *http.ServeMux
	config         RouterConfig
	queue          *orders.Queue
	registry       *workflows.Registry
	roles          *config.FileCache[config.Roles]
	limiter        *RateLimiter
	metricsHandler MetricsHandler
	logger         *slog.Logger
}

// SetMetricsHandler sets the Prometheus metrics handler.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	r.metricsHandler = handler
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// NewRouter creates a new HTTP router with all API endpoints.
func NewRouter(cfg RouterConfig, queue *orders.Queue, registry *workflows.Registry, roles *config.FileCache[config.Roles], logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		config:   cfg,
		queue:    queue,
		registry: registry,
		roles:    roles,
		limiter:  NewRateLimiter(cfg.RateLimit),
		logger:   logger,
	}

	// OData entity sets
	r.mux.HandleFunc("POST /TransformationOrders", r.handleSubmit)
	r.mux.HandleFunc("GET /TransformationOrders", r.handleListOrders)
	r.mux.HandleFunc("GET /Workflows", r.handleListWorkflows)

	// keyed addressing, e.g. /TransformationOrders('<id>') and
	// /TransformationOrders('<id>')/Log; the key lives inside one path
	// segment so a mux wildcard captures it whole
	r.mux.HandleFunc("GET /{entity}", r.handleEntity)
	r.mux.HandleFunc("GET /{entity}/{sub}", r.handleEntitySub)

	// administration
	r.mux.HandleFunc("GET /admin/TransformationOrders", r.handleAdminOrders)
	r.mux.HandleFunc("POST /admin/Evictions", r.handleEvictions)

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux

	// request logging wraps everything
	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		defer func() {
			r.logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()
		innerHandler.ServeHTTP(w, req)
	})

	handler = r.limiter.Middleware(handler)

	handler.ServeHTTP(w, req)
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		WriteError(w, http.StatusNotFound, "resource not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "transformd",
		"version": r.config.Version,
	})
}

// handleVersion handles GET /v1/version.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}

// handleHealth handles GET /v1/health.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   r.config.Version,
		"workflows": len(r.registry.All()),
	})
}
