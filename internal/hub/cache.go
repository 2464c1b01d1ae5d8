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
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/transformd/internal/config"
)

// AdapterCache builds hub adapters lazily from the hubs credentials file and
// rebuilds them when the file changes. Hubs removed from the file are
// evicted; unchanged entries keep their adapter (and any cached tokens).
type AdapterCache struct {
	configs *config.FileCache[[]Config]
	logger  *slog.Logger

	mu       sync.Mutex
	built    time.Time
	adapters map[string]Adapter
	known    map[string]Config
	order    []string
}

// NewAdapterCache creates a cache over the hubs credentials file at path.
func NewAdapterCache(path string, logger *slog.Logger) *AdapterCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdapterCache{
		configs:  config.NewFileCache(path, ParseHubs),
		logger:   logger,
		adapters: make(map[string]Adapter),
		known:    make(map[string]Config),
	}
}

// Adapters returns the configured adapters in file order.
func (c *AdapterCache) Adapters() ([]Adapter, error) {
	cfgs, err := c.configs.Get()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if mtime := c.configs.ModTime(); !mtime.Equal(c.built) {
		c.rebuild(cfgs)
		c.built = mtime
	}

	out := make([]Adapter, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.adapters[name])
	}
	return out, nil
}

// Get returns the adapter for one named hub.
func (c *AdapterCache) Get(name string) (Adapter, bool) {
	if _, err := c.Adapters(); err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	adapter, ok := c.adapters[name]
	return adapter, ok
}

func (c *AdapterCache) rebuild(cfgs []Config) {
	present := make(map[string]bool, len(cfgs))
	c.order = c.order[:0]

	for _, cfg := range cfgs {
		present[cfg.Name] = true

		if prev, ok := c.known[cfg.Name]; ok && prev == cfg {
			c.order = append(c.order, cfg.Name)
			continue
		}

		adapter, err := c.build(cfg)
		if err != nil {
			c.logger.Warn("error instantiating hub adapter",
				"hub", cfg.Name, "api_type", cfg.APIType, "error", err)
			delete(c.adapters, cfg.Name)
			delete(c.known, cfg.Name)
			continue
		}
		c.adapters[cfg.Name] = adapter
		c.known[cfg.Name] = cfg
		c.order = append(c.order, cfg.Name)
	}

	for name := range c.adapters {
		if !present[name] {
			delete(c.adapters, name)
			delete(c.known, name)
		}
	}
}

func (c *AdapterCache) build(cfg Config) (Adapter, error) {
	switch cfg.APIType {
	case APITypeCsc:
		return newCscAdapter(cfg, c.logger)
	default:
		return newDhusAdapter(cfg, c.logger)
	}
}
