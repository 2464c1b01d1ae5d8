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

// Package daemon wires the transformd components together and runs the
// HTTP server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tombee/transformd/internal/api"
	"github.com/tombee/transformd/internal/config"
	"github.com/tombee/transformd/internal/events"
	"github.com/tombee/transformd/internal/hub"
	internallog "github.com/tombee/transformd/internal/log"
	"github.com/tombee/transformd/internal/orders"
	"github.com/tombee/transformd/internal/runner"
	"github.com/tombee/transformd/internal/worker"
	"github.com/tombee/transformd/internal/workflows"

	// workflow plugins register their execute functions on import
	_ "github.com/tombee/transformd/internal/workflows/plugins"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the main transformd daemon.
type Daemon struct {
	settings *config.Settings
	opts     Options
	logger   *slog.Logger

	server *http.Server
	ln     net.Listener

	store    *events.Store
	recorder *events.Recorder
	registry *workflows.Registry
	service  *config.FileCache[*config.Service]
	roles    *config.FileCache[config.Roles]
	pool     *worker.Pool
	queue    *orders.Queue
	metrics  *Metrics

	mu      sync.Mutex
	started bool
}

// New creates a new daemon instance. Configuration problems that would make
// every request fail, a missing default role for example, surface here.
func New(settings *config.Settings, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(internallog.FromEnv()), "daemon")

	for _, dir := range []string{settings.WorkingDir, settings.OutputDir, settings.TracesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	registry, err := workflows.Load(settings.PluginsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow descriptors: %w", err)
	}
	logger.Info("workflows loaded", "count", len(registry.All()), "dir", settings.PluginsDir)

	store, err := events.NewStore(events.Config{Path: settings.EventsDBPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	recorder := events.NewRecorder(store, logger)

	service := config.NewServiceCache(settings.ServiceConfigFile)
	roles := config.NewRolesCache(settings.RolesConfigFile)

	// fail fast on broken mandatory configuration
	if _, err := service.Get(); err != nil {
		store.Close()
		return nil, err
	}
	if _, err := roles.Get(); err != nil {
		store.Close()
		return nil, err
	}

	pool := worker.NewPool(settings.MaxParallel, logger)
	downloader := hub.NewDownloader(settings.HubsCredentialsFile, settings.Debug, logger)
	jobRunner := runner.New(settings, service, downloader, recorder)
	metrics := NewMetrics()

	queue := orders.NewQueue(orders.QueueConfig{
		Settings: settings,
		Service:  service,
		Roles:    roles,
		Registry: registry,
		Pool:     pool,
		Runner:   jobRunner,
		Recorder: recorder,
		Logger:   logger,
		Metrics:  metrics,
	})

	return &Daemon{
		settings: settings,
		opts:     opts,
		logger:   logger,
		store:    store,
		recorder: recorder,
		registry: registry,
		service:  service,
		roles:    roles,
		pool:     pool,
		queue:    queue,
		metrics:  metrics,
	}, nil
}

// Queue exposes the order queue, mainly for tests.
func (d *Daemon) Queue() *orders.Queue {
	return d.queue
}

// Start begins serving the HTTP API. It returns once the listener is bound;
// the server runs on its own goroutine until Shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	// watch the reloadable configs so edits invalidate the caches promptly
	d.service.Watch()
	d.roles.Watch()

	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	}, d.queue, d.registry, d.roles, d.logger)
	router.SetMetricsHandler(d.metrics.Handler())

	ln, err := net.Listen("tcp", d.settings.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.settings.ListenAddr, err)
	}
	d.ln = ln

	d.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Error("http server stopped", internallog.Error(err))
		}
	}()

	d.logger.Info("transformd started",
		"addr", ln.Addr().String(),
		"version", d.opts.Version,
		"max_parallel", d.settings.MaxParallel)
	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Shutdown stops the HTTP server, drains the worker pool, and closes the
// event store. In-flight transformations are cancelled.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	d.logger.Info("shutting down")

	var firstErr error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := d.pool.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	d.service.Close()
	d.roles.Close()
	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	d.logger.Info("shutdown complete")
	return firstErr
}
