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

// Package workflows provides the plugin registry: workflow descriptors are
// discovered from YAML files, validated, and bound to registered execute
// functions.
package workflows

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tombee/transformd/pkg/errors"
)

// ExecuteRequest carries everything an execute function needs for one run.
type ExecuteRequest struct {
	// ProductPath is the unpacked input product directory.
	ProductPath string

	// ProcessingDir is the per-order scratch directory.
	ProcessingDir string

	// OutputDir is where the plugin must place its output directory.
	OutputDir string

	// Options are the fully-defaulted workflow options.
	Options map[string]any

	OrderID string
	UserID  string
}

// ExecuteFunc runs a workflow plugin and returns the produced output
// directory path.
type ExecuteFunc func(ctx context.Context, req ExecuteRequest) (string, error)

// Option declares a single configurable workflow option.
type Option struct {
	Type        string `yaml:"Type" json:"Type"`
	Description string `yaml:"Description" json:"Description"`
	Default     any    `yaml:"Default,omitempty" json:"Default,omitempty"`
	Enum        []any  `yaml:"Enum,omitempty" json:"Enum,omitempty"`
}

// HasDefault reports whether the option declares a default value.
func (o Option) HasDefault() bool {
	return o.Default != nil
}

// Descriptor is a workflow plugin description loaded from a YAML file.
type Descriptor struct {
	Id                string            `yaml:"Id" json:"Id"`
	WorkflowName      string            `yaml:"WorkflowName" json:"WorkflowName"`
	Description       string            `yaml:"Description" json:"Description"`
	Execute           string            `yaml:"Execute" json:"-"`
	InputProductType  string            `yaml:"InputProductType" json:"InputProductType"`
	OutputProductType string            `yaml:"OutputProductType" json:"OutputProductType"`
	WorkflowVersion   string            `yaml:"WorkflowVersion" json:"WorkflowVersion"`
	WorkflowOptions   map[string]Option `yaml:"WorkflowOptions" json:"WorkflowOptions"`

	// ProcessorName and ProcessorVersion identify the underlying processor
	// for provenance traces.
	ProcessorName    string `yaml:"ProcessorName,omitempty" json:"ProcessorName,omitempty"`
	ProcessorVersion string `yaml:"ProcessorVersion,omitempty" json:"ProcessorVersion,omitempty"`

	// SupportsTraceability defaults to true when omitted.
	SupportsTraceability *bool `yaml:"SupportsTraceability,omitempty" json:"SupportsTraceability,omitempty"`

	execute ExecuteFunc
}

// Traceable reports whether the workflow advertises traceability support.
func (d *Descriptor) Traceable() bool {
	return d.SupportsTraceability == nil || *d.SupportsTraceability
}

// Run invokes the bound execute function.
func (d *Descriptor) Run(ctx context.Context, req ExecuteRequest) (string, error) {
	return d.execute(ctx, req)
}

// ResolveOptions merges submitted options over the descriptor's defaults and
// validates the result: unknown options, values of the wrong type, and
// values outside a declared enum are rejected, as are declared options left
// without a value.
func (d *Descriptor) ResolveOptions(submitted map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(d.WorkflowOptions))
	for name, opt := range d.WorkflowOptions {
		if opt.HasDefault() {
			resolved[name] = opt.Default
		}
	}

	for name, value := range submitted {
		opt, ok := d.WorkflowOptions[name]
		if !ok {
			return nil, &errors.ValidationError{
				Field:      "WorkflowOptions",
				Message:    fmt.Sprintf("option %q is not declared by workflow %q", name, d.Id),
				Suggestion: "valid options: " + strings.Join(d.optionNames(), ", "),
			}
		}
		value, ok = coerce(value, opt.Type)
		if !ok {
			return nil, &errors.ValidationError{
				Field:   "WorkflowOptions",
				Message: fmt.Sprintf("option %q must be of type %s", name, opt.Type),
			}
		}
		if len(opt.Enum) > 0 && !enumContains(opt.Enum, value) {
			return nil, &errors.ValidationError{
				Field:   "WorkflowOptions",
				Message: fmt.Sprintf("option %q value %v is not among the allowed values %v", name, value, opt.Enum),
			}
		}
		resolved[name] = value
	}

	var missing []string
	for name := range d.WorkflowOptions {
		if _, ok := resolved[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &errors.ValidationError{
			Field:   "WorkflowOptions",
			Message: fmt.Sprintf("the following options are mandatory for workflow %q: %v", d.Id, missing),
		}
	}
	return resolved, nil
}

func (d *Descriptor) optionNames() []string {
	names := make([]string, 0, len(d.WorkflowOptions))
	for name := range d.WorkflowOptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// coerce checks value against the declared option type and normalizes it.
// JSON decoding yields float64 for all numbers, so integral floats are
// accepted for integer options.
func coerce(value any, typ string) (any, bool) {
	switch typ {
	case TypeString:
		s, ok := value.(string)
		return s, ok
	case TypeBoolean:
		b, ok := value.(bool)
		return b, ok
	case TypeInteger:
		switch v := value.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			if v == float64(int(v)) {
				return int(v), true
			}
		}
		return nil, false
	case TypeNumber:
		switch v := value.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
		return nil, false
	}
	return nil, false
}

func enumContains(enum []any, value any) bool {
	for _, member := range enum {
		normalized, ok := coerceLike(member, value)
		if ok && normalized == value {
			return true
		}
	}
	return false
}

// coerceLike normalizes an enum member to the dynamic type of value so
// int/float representations compare equal.
func coerceLike(member, value any) (any, bool) {
	switch value.(type) {
	case int:
		return coerce(member, TypeInteger)
	case float64:
		return coerce(member, TypeNumber)
	case string:
		return coerce(member, TypeString)
	case bool:
		return coerce(member, TypeBoolean)
	}
	return member, true
}
