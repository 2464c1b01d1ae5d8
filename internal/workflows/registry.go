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

package workflows

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tombee/transformd/pkg/errors"
)

// executeFuncs is the process-wide execute function table. Plugin packages
// register their implementations at init time.
var (
	executeMu    sync.RWMutex
	executeFuncs = map[string]ExecuteFunc{}
)

// RegisterExecute binds name to fn so descriptors can reference it through
// their Execute field. Registering the same name twice panics.
func RegisterExecute(name string, fn ExecuteFunc) {
	executeMu.Lock()
	defer executeMu.Unlock()
	if _, exists := executeFuncs[name]; exists {
		panic(fmt.Sprintf("workflows: execute function %q registered twice", name))
	}
	executeFuncs[name] = fn
}

func lookupExecute(name string) (ExecuteFunc, bool) {
	executeMu.RLock()
	defer executeMu.RUnlock()
	fn, ok := executeFuncs[name]
	return fn, ok
}

// Registry holds the validated workflow descriptors discovered at startup.
// It is immutable after Load.
type Registry struct {
	workflows map[string]*Descriptor
	logger    *slog.Logger
}

// Load scans dir for workflow descriptor YAML files (one descriptor per
// file, *.yaml or *.yml) and registers every descriptor that passes
// validation and names a registered execute function. An invalid descriptor
// is logged and skipped without affecting the others. On duplicate ids the
// lexicographically-first source file wins.
func Load(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &errors.ConfigError{
			Reason: "reading plugins directory " + dir,
			Cause:  err,
		}
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	r := &Registry{
		workflows: make(map[string]*Descriptor, len(files)),
		logger:    logger,
	}
	sources := make(map[string]string, len(files))

	for _, name := range files {
		path := filepath.Join(dir, name)
		d, err := loadDescriptor(path)
		if err != nil {
			logger.Warn("workflow registration failed",
				"source", name, "error", err)
			continue
		}
		if prev, dup := sources[d.Id]; dup {
			logger.Warn("duplicate workflow id, keeping first source",
				"workflow", d.Id, "kept", prev, "ignored", name)
			continue
		}
		sources[d.Id] = name
		r.workflows[d.Id] = d
		logger.Info("workflow registered",
			"workflow", d.Id, "input_product_type", d.InputProductType, "source", name)
	}
	return r, nil
}

func loadDescriptor(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if err := Validate(&d); err != nil {
		return nil, err
	}
	fn, ok := lookupExecute(d.Execute)
	if !ok {
		return nil, &errors.ValidationError{
			Field:   "Execute",
			Message: fmt.Sprintf("workflow %q: execute function %q is not registered", d.Id, d.Execute),
		}
	}
	d.execute = fn
	return &d, nil
}

// All returns every registered descriptor keyed by workflow id.
func (r *Registry) All() map[string]*Descriptor {
	out := make(map[string]*Descriptor, len(r.workflows))
	for id, d := range r.workflows {
		out[id] = d
	}
	return out
}

// ByID returns the descriptor for id.
func (r *Registry) ByID(id string) (*Descriptor, error) {
	d, ok := r.workflows[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	return d, nil
}

// Filter returns descriptors whose InputProductType exactly matches
// productType; an empty productType returns everything.
func (r *Registry) Filter(productType string) map[string]*Descriptor {
	if strings.TrimSpace(productType) == "" {
		return r.All()
	}
	out := make(map[string]*Descriptor)
	for id, d := range r.workflows {
		if d.InputProductType == productType {
			out[id] = d
		}
	}
	return out
}
