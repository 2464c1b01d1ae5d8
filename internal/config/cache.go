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

package config

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/transformd/pkg/errors"
)

// defaultTTL bounds how long a parsed file may be served without re-checking
// its modification time.
const defaultTTL = 10 * time.Second

// FileCache caches the parsed contents of a single config file. The cache is
// invalidated when the file's mtime changes, when the TTL expires, or
// eagerly via an optional fsnotify watcher. Every caller therefore observes
// operator edits without a process restart.
type FileCache[T any] struct {
	path  string
	ttl   time.Duration
	parse func([]byte) (T, error)

	mu       sync.Mutex
	value    T
	loaded   bool
	mtime    time.Time
	checked  time.Time
	watcher  *fsnotify.Watcher
	watchErr error
}

// NewFileCache creates a cache for path; parse converts raw file bytes to T.
func NewFileCache[T any](path string, parse func([]byte) (T, error)) *FileCache[T] {
	return &FileCache[T]{
		path:  path,
		ttl:   defaultTTL,
		parse: parse,
	}
}

// Watch starts an fsnotify watcher that drops the cached value as soon as
// the file changes, without waiting for the TTL. Watch failures are not
// fatal; the mtime/TTL check still applies.
func (c *FileCache[T]) Watch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher != nil {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(c.path)
	}
	if err != nil {
		c.watchErr = err
		slog.Debug("config watch unavailable, falling back to mtime polling",
			"path", c.path, "error", err)
		return
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.Invalidate()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close stops the fsnotify watcher, if any.
func (c *FileCache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		c.watcher.Close()
		c.watcher = nil
	}
}

// Invalidate drops the cached value so the next Get re-reads the file.
func (c *FileCache[T]) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// Get returns the parsed file contents, re-reading the file when its mtime
// changed since the last read or the TTL expired.
func (c *FileCache[T]) Get() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.loaded && now.Sub(c.checked) < c.ttl {
		return c.value, nil
	}

	info, err := os.Stat(c.path)
	if err != nil {
		var zero T
		return zero, &errors.ConfigError{
			Reason: "config file not found: " + c.path,
			Cause:  err,
		}
	}

	if c.loaded && info.ModTime().Equal(c.mtime) {
		c.checked = now
		return c.value, nil
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		var zero T
		return zero, &errors.ConfigError{
			Reason: "reading " + c.path,
			Cause:  err,
		}
	}

	value, err := c.parse(raw)
	if err != nil {
		var zero T
		return zero, err
	}

	c.value = value
	c.loaded = true
	c.mtime = info.ModTime()
	c.checked = now
	return c.value, nil
}

// ModTime returns the modification time observed at the last successful Get.
func (c *FileCache[T]) ModTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtime
}
