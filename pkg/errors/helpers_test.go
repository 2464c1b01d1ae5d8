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

package errors_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	tferrors "github.com/tombee/transformd/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := tferrors.Wrap(original, "additional context")

		if wrapped == nil {
			t.Fatal("Wrap should not return nil for non-nil error")
		}
		msg := wrapped.Error()
		if !strings.Contains(msg, "additional context") || !strings.Contains(msg, "original error") {
			t.Errorf("wrapped error missing context or original message: %s", msg)
		}
		if !errors.Is(wrapped, original) {
			t.Error("wrapped error should match the original with errors.Is")
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		if tferrors.Wrap(nil, "context") != nil {
			t.Error("Wrap(nil) should return nil")
		}
		if tferrors.Wrapf(nil, "context %d", 1) != nil {
			t.Error("Wrapf(nil) should return nil")
		}
	})
}

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	inner := &tferrors.NotFoundError{Resource: "workflow", ID: "nope"}
	wrapped := tferrors.Wrap(inner, "loading workflow")

	if !tferrors.IsNotFound(wrapped) {
		t.Error("IsNotFound should match a wrapped NotFoundError")
	}
	if tferrors.IsValidation(wrapped) {
		t.Error("IsValidation should not match a NotFoundError")
	}
}

func TestDownloadErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &tferrors.DownloadError{Hub: "first_hub", Product: "S2A_X.zip", Message: "unreachable", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("DownloadError should unwrap to its cause")
	}
	if !tferrors.IsDownload(err) {
		t.Error("IsDownload should match")
	}
	if !strings.Contains(err.Error(), "first_hub") {
		t.Errorf("message should name the hub: %s", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", &tferrors.ValidationError{Message: "bad"}, http.StatusUnprocessableEntity},
		{"not found", &tferrors.NotFoundError{Resource: "order", ID: "x"}, http.StatusNotFound},
		{"forbidden", &tferrors.ForbiddenError{Resource: "admin"}, http.StatusForbidden},
		{"quota", &tferrors.QuotaError{UserID: "alice", Running: 2, Cap: 2}, http.StatusTooManyRequests},
		{"config", &tferrors.ConfigError{Reason: "broken"}, http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tferrors.HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus = %d, expected %d", got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	verr := &tferrors.ValidationError{Field: "WorkflowId", Message: "required"}
	if !strings.Contains(verr.Error(), "WorkflowId") {
		t.Errorf("validation message should name the field: %s", verr.Error())
	}

	qerr := &tferrors.QuotaError{UserID: "alice", Running: 3, Cap: 2}
	if !strings.Contains(qerr.Error(), "alice") || !strings.Contains(qerr.Error(), "3") {
		t.Errorf("quota message should carry the user and count: %s", qerr.Error())
	}

	ferr := &tferrors.ForbiddenError{Resource: "administration API"}
	if !strings.Contains(ferr.Error(), "forbidden") {
		t.Errorf("forbidden message: %s", ferr.Error())
	}
}
