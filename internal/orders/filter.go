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
	"fmt"
	"strings"
	"time"

	"github.com/tombee/transformd/pkg/errors"
)

// Filter is one predicate of an order query. Queries are conjunctions of
// filters.
type Filter struct {
	Field string
	Op    string
	Value string
}

// allowedOps maps each filterable field to its permitted operators.
var allowedOps = map[string][]string{
	"Id":                    {"eq"},
	"SubmissionDate":        {"eq", "lt", "le", "gt", "ge"},
	"CompletedDate":         {"eq", "lt", "le", "gt", "ge"},
	"WorkflowId":            {"eq"},
	"Status":                {"eq"},
	"InputProductReference": {"eq"},
}

var dateFields = map[string]bool{
	"SubmissionDate": true,
	"CompletedDate":  true,
}

// Validate checks the field/op pair and, for date fields, the literal.
func (f Filter) Validate() error {
	ops, ok := allowedOps[f.Field]
	if !ok {
		return &errors.ValidationError{
			Field:      "$filter",
			Message:    fmt.Sprintf("field %q is not filterable", f.Field),
			Suggestion: "filterable fields: Id, SubmissionDate, CompletedDate, WorkflowId, Status, InputProductReference",
		}
	}
	supported := false
	for _, op := range ops {
		if op == f.Op {
			supported = true
			break
		}
	}
	if !supported {
		return &errors.ValidationError{
			Field:   "$filter",
			Message: fmt.Sprintf("operator %q is not supported for field %q, allowed: %s", f.Op, f.Field, strings.Join(ops, ", ")),
		}
	}
	if dateFields[f.Field] {
		if _, err := parseISODate(f.Value); err != nil {
			return &errors.ValidationError{
				Field:   "$filter",
				Message: fmt.Sprintf("%q is not a valid isoformat string: %s", f.Field, f.Value),
			}
		}
	}
	return nil
}

// Match evaluates the filter against one order. Orders without a completed
// date are excluded by any CompletedDate predicate.
func (f Filter) Match(o *Order) bool {
	switch f.Field {
	case "Id":
		return o.ID() == f.Value
	case "WorkflowId":
		return o.WorkflowID() == f.Value
	case "Status":
		return o.Status() == f.Value
	case "InputProductReference":
		return o.Reference() == f.Value
	case "SubmissionDate":
		return compareDates(o.SubmissionTime(), f.Op, f.Value)
	case "CompletedDate":
		completed, ok := o.CompletedTime()
		if !ok {
			return false
		}
		return compareDates(completed, f.Op, f.Value)
	}
	return false
}

func compareDates(actual time.Time, op, literal string) bool {
	// literals are validated before matching
	value, err := parseISODate(literal)
	if err != nil {
		return false
	}
	actual = actual.Truncate(time.Second)
	switch op {
	case "eq":
		return actual.Equal(value)
	case "lt":
		return actual.Before(value)
	case "le":
		return actual.Before(value) || actual.Equal(value)
	case "gt":
		return actual.After(value)
	case "ge":
		return actual.After(value) || actual.Equal(value)
	}
	return false
}

// isoLayouts are the accepted ISO-8601 timestamp shapes.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseISODate(value string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp: %s", value)
}
