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

package api

import (
	"encoding/json"
	"net/http"

	"github.com/tombee/transformd/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, message string) error {
	return WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeErrorFromErr maps a taxonomy error onto its HTTP status. Download
// errors never reach here; they fail the order and show up in its log.
func writeErrorFromErr(w http.ResponseWriter, err error) error {
	return WriteError(w, errors.HTTPStatus(err), err.Error())
}

// envelope is the OData-style response wrapper for collection queries.
type envelope struct {
	Context string `json:"@odata.context"`
	Value   any    `json:"value"`
	Count   *int   `json:"@odata.count,omitempty"`
}

// WriteCollection writes an OData collection envelope. count is included
// only when requested via $count=true.
func WriteCollection(w http.ResponseWriter, context string, value any, count *int) error {
	return WriteJSON(w, http.StatusOK, envelope{
		Context: context,
		Value:   value,
		Count:   count,
	})
}
