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

// Package runner executes transformation jobs: download, unpack, plugin
// run, repackaging, ownership, optional provenance trace, cleanup.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/transformd/internal/config"
	"github.com/tombee/transformd/internal/events"
	"github.com/tombee/transformd/internal/hub"
	"github.com/tombee/transformd/internal/trace"
	"github.com/tombee/transformd/internal/workflows"
)

// Job describes one transformation to execute.
type Job struct {
	OrderID  string
	UserID   string
	Workflow *workflows.Descriptor

	// Product is the input product reference name.
	Product string

	// PreferredHub restricts the download to one named hub when set.
	PreferredHub string

	// Options are the fully-defaulted workflow options.
	Options map[string]any

	// TraceEnabled is the effective traceability flag for this order.
	TraceEnabled bool
}

// Runner executes jobs on worker goroutines.
type Runner struct {
	settings   *config.Settings
	service    *config.FileCache[*config.Service]
	downloader *hub.Downloader
	recorder   *events.Recorder
}

// New creates a runner.
func New(settings *config.Settings, service *config.FileCache[*config.Service], downloader *hub.Downloader, recorder *events.Recorder) *Runner {
	return &Runner{
		settings:   settings,
		service:    service,
		downloader: downloader,
		recorder:   recorder,
	}
}

// Run executes one job end to end and returns the output product path
// relative to the output directory, "<order_id>/<zip name>". Everything the
// job logs is also recorded as order events.
func (r *Runner) Run(ctx context.Context, job Job) (string, error) {
	logger := r.recorder.Logger(job.OrderID)
	logger.Info("start processing", "workflow", job.Workflow.Id)

	svc, err := r.service.Get()
	if err != nil {
		return "", err
	}

	processingDir := filepath.Join(r.settings.WorkingDir, job.OrderID)
	outputBinderDir := filepath.Join(processingDir, "output_binder_dir")
	logger.Info("creating directories",
		"processing_dir", processingDir, "output_binder_dir", outputBinderDir)
	for _, dir := range []string{r.settings.OutputDir, r.settings.TracesDir, processingDir, outputBinderDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	var monitor *Monitor
	if svc.MonitoringEnabled() {
		monitor = NewMonitor(job.OrderID, int32(os.Getpid()), processingDir,
			time.Duration(svc.MonitoringPollingTimeS)*time.Second, logger)
		monitor.Start(ctx)
	}

	defer func() {
		if monitor != nil {
			monitor.Stop(ctx)
		}
		if !r.settings.Debug {
			logger.Info("deleting processing directory", "path", processingDir)
			os.RemoveAll(processingDir)
		}
	}()

	logger.Info("downloading input product",
		"product", job.Product, "hub", job.PreferredHub)
	productZip, err := r.downloader.Download(ctx, job.Product, processingDir, job.PreferredHub, logger)
	if err != nil {
		return "", err
	}

	logger.Info("unpack input product", "path", productZip)
	productPath, err := unzipProduct(productZip, processingDir)
	if err != nil {
		return "", fmt.Errorf("unpacking %s: %w", productZip, err)
	}

	logger.Info("run workflow", "workflow", job.Workflow.Id, "options", job.Options)
	output, err := job.Workflow.Run(ctx, workflows.ExecuteRequest{
		ProductPath:   productPath,
		ProcessingDir: processingDir,
		OutputDir:     outputBinderDir,
		Options:       job.Options,
		OrderID:       job.OrderID,
		UserID:        job.UserID,
	})
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(output); statErr != nil {
		return "", fmt.Errorf("workflow %q output %q not found", job.Workflow.Id, output)
	}

	logger.Info("package output product", "path", output)
	outputOrderDir := filepath.Join(r.settings.OutputDir, job.OrderID)
	if err := os.MkdirAll(outputOrderDir, 0o755); err != nil {
		return "", err
	}
	outputProductPath, err := zipProduct(output, outputOrderDir)
	if err != nil {
		return "", err
	}

	r.chown(outputProductPath, logger)
	r.chown(outputOrderDir, logger)

	if monitor != nil {
		monitor.Stop(ctx)
	}

	if job.TraceEnabled {
		if _, err := trace.Push(ctx, trace.PushRequest{
			OutputProductPath: outputProductPath,
			TracesDir:         r.settings.TracesDir,
			OrderID:           job.OrderID,
			OutputProductType: job.Workflow.OutputProductType,
			ProcessorName:     job.Workflow.ProcessorName,
			ProcessorVersion:  job.Workflow.ProcessorVersion,
		}, logger); err != nil {
			// trace failures never fail the order
			logger.Error("the trace has not been pushed, an error occurred", "error", err)
		}
	}

	return filepath.Join(job.OrderID, filepath.Base(outputProductPath)), nil
}

// chown applies the configured output ownership; failures are warnings.
func (r *Runner) chown(path string, logger *slog.Logger) {
	uid, gid := r.settings.OutputOwnerID, r.settings.OutputGroupOwnerID
	if uid < 0 && gid < 0 {
		return
	}
	if err := os.Chown(path, uid, gid); err != nil {
		logger.Warn("failed to change file ownership", "path", path, "error", err)
	}
}
