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

package hub

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/transformd/pkg/errors"
)

// Downloader fetches input products from the first configured hub that
// publishes them.
type Downloader struct {
	cache *AdapterCache

	// debug reuses an already-downloaded zip instead of fetching again.
	debug  bool
	logger *slog.Logger
}

// NewDownloader creates a downloader over the hubs credentials file.
func NewDownloader(hubsFile string, debug bool, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		cache:  NewAdapterCache(hubsFile, logger),
		debug:  debug,
		logger: logger,
	}
}

// Download fetches product into dir. With preferredHub set only that hub is
// tried; otherwise the hubs are attempted in configured order, skipping any
// that fail. The returned path points at the downloaded zip.
func (d *Downloader) Download(ctx context.Context, product, dir, preferredHub string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = d.logger
	}

	if d.debug {
		reuse := filepath.Join(dir, stem(product)+".zip")
		if _, err := os.Stat(reuse); err == nil {
			logger.Info("debug mode, reusing already-downloaded product", "path", reuse)
			return reuse, nil
		}
	}

	adapters, err := d.cache.Adapters()
	if err != nil {
		return "", err
	}

	if preferredHub != "" {
		adapter, ok := d.cache.Get(preferredHub)
		if !ok {
			return "", &errors.DownloadError{
				Hub: preferredHub, Product: product,
				Message: "hub not present in the hubs configuration",
			}
		}
		adapters = []Adapter{adapter}
	}

	var names []string
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
		logger.Info("trying to download data", "hub", adapter.Name(), "product", product)

		path, err := adapter.Download(ctx, product, dir)
		if err != nil {
			logger.Warn("not able to download, an error occurred",
				"hub", adapter.Name(), "error", err)
			continue
		}
		return path, nil
	}

	return "", &errors.DownloadError{
		Product: product,
		Message: fmt.Sprintf("could not download product from any of %v", names),
	}
}
