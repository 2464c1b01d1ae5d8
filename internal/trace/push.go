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

package trace

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// PushRequest carries everything needed to trace one output product.
type PushRequest struct {
	OutputProductPath string
	TracesDir         string
	OrderID           string

	// Product metadata from the workflow descriptor.
	OutputProductType string
	ProcessorName     string
	ProcessorVersion  string
}

var sensingDatePattern = regexp.MustCompile(`[0-9]{8}T[0-9]{6}`)

// extractSensingDate pulls the sensing timestamp embedded in a product
// filename, empty when none is present.
func extractSensingDate(productPath string) string {
	match := sensingDatePattern.FindString(filepath.Base(productPath))
	if match == "" {
		return ""
	}
	ts, err := time.Parse("20060102T150405", match)
	if err != nil {
		return ""
	}
	return ts.Format("2006-01-02T15:04:05")
}

// extractPlatform maps the product filename prefix to a platform name.
func extractPlatform(productPath string) string {
	name := filepath.Base(productPath)
	switch {
	case strings.HasPrefix(name, "S1"):
		return "SENTINEL-1"
	case strings.HasPrefix(name, "S2"):
		return "SENTINEL-2"
	case strings.HasPrefix(name, "S3"):
		return "SENTINEL-3"
	case strings.HasPrefix(name, "S5P"):
		return "SENTINEL-5P"
	}
	return ""
}

// Push creates, hashes, signs, and uploads a trace for an output product.
// On success the trace file is removed and the trace id returned; on any
// failure the file stays under the traces dir for manual recovery. Callers
// treat a push failure as a warning, never as an order failure.
func Push(ctx context.Context, req PushRequest, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sending product trace")

	cfg, err := LoadConfig("")
	if err != nil {
		return "", err
	}

	tracePath := filepath.Join(req.TracesDir, "trace_"+req.OrderID+".json")
	t, err := New(cfg, tracePath, Attributes{
		BeginningDateTime: extractSensingDate(req.OutputProductPath),
		PlatformShortName: extractPlatform(req.OutputProductPath),
		ProductType:       req.OutputProductType,
		ProcessorName:     req.ProcessorName,
		ProcessorVersion:  req.ProcessorVersion,
	})
	if err != nil {
		return "", err
	}

	if err := t.Hash(ctx, req.OutputProductPath); err != nil {
		return "", err
	}
	if err := t.Sign(ctx); err != nil {
		return "", err
	}
	if err := t.Push(ctx); err != nil {
		return "", err
	}

	logger.Info("the trace has been pushed", "trace_id", t.ID())
	return t.ID(), nil
}
