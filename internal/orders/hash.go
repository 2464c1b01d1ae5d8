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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ComputeOrderID derives the deterministic order identifier from everything
// that makes two submissions equivalent: the workflow, the input product
// reference, the fully-defaulted options, and the effective trace flag.
// JSON map keys marshal in sorted order, so the digest is stable.
func ComputeOrderID(workflowID string, ref InputProductReference, options map[string]any, traceEnabled bool) string {
	payload := struct {
		WorkflowID   string                `json:"workflow_id"`
		Reference    InputProductReference `json:"input_product_reference"`
		Options      map[string]any        `json:"workflow_options"`
		TraceEnabled bool                  `json:"trace_enabled"`
	}{workflowID, ref, options, traceEnabled}

	data, err := json.Marshal(payload)
	if err != nil {
		// only unmarshalable option values can land here; fall back to the
		// formatted representation so submission still works
		data = []byte(fmt.Sprintf("%s|%+v|%+v|%t", workflowID, ref, options, traceEnabled))
	}
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])[:32]
}
