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

// Package errors defines the error taxonomy shared across transformd.
package errors

import (
	"fmt"
)

// ValidationError represents user input validation failures.
// Use this for malformed filters, unknown or mistyped workflow options,
// product names that do not match a workflow's product type, or malformed
// date literals.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested workflow, order, or hub does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "transformation order")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ForbiddenError represents an authorization failure.
// Use this when the caller lacks the manager profile for admin routes or
// when a workflow is excluded by configuration.
type ForbiddenError struct {
	// Resource describes what was denied
	Resource string

	// Reason explains why access was denied
	Reason string
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("access to %s is forbidden: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("access to %s is forbidden", e.Resource)
}

// QuotaError represents an admission rejection due to the user's quota.
type QuotaError struct {
	// UserID identifies the user whose quota was exceeded
	UserID string

	// Running is the number of non-terminal orders at rejection time
	Running int

	// Cap is the quota derived from the user's roles
	Cap int
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("user %s has reached their quota: %d processes are running (cap %d)",
		e.UserID, e.Running, e.Cap)
}

// DownloadError represents failures while resolving or retrieving a product
// from the configured data hubs. These never surface directly to the
// submitter; the order becomes failed and the cause is visible in its log.
type DownloadError struct {
	// Hub is the hub name, or empty when all hubs were exhausted
	Hub string

	// Product is the product reference being downloaded
	Product string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	if e.Hub != "" {
		return fmt.Sprintf("download of %s from %s failed: %s", e.Product, e.Hub, e.Message)
	}
	return fmt.Sprintf("download of %s failed: %s", e.Product, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for malformed YAML, missing mandatory config keys, or config
// paths that do not exist. Fatal at startup, 500 at request time.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "default_role")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
