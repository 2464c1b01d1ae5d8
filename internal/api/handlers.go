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
	"fmt"
	"net/http"
	"sort"

	"github.com/tombee/transformd/internal/config"
	"github.com/tombee/transformd/internal/orders"
	"github.com/tombee/transformd/internal/workflows"
	"github.com/tombee/transformd/pkg/errors"
)

// submitBody is the POST /TransformationOrders request payload.
type submitBody struct {
	WorkflowId            string                       `json:"WorkflowId"`
	InputProductReference orders.InputProductReference `json:"InputProductReference"`
	WorkflowOptions       map[string]any               `json:"WorkflowOptions"`
}

// authorize resolves the caller's profile and rejects unauthorized callers.
// The roles config is reloaded through its cache on every call so operator
// edits take effect without restart.
func (r *Router) authorize(w http.ResponseWriter, req *http.Request) (Identity, config.Profile, bool) {
	id := identityFromRequest(req)
	roles, err := r.roles.Get()
	if err != nil {
		writeErrorFromErr(w, err)
		return id, "", false
	}
	profile := id.Profile(roles)
	if profile == config.ProfileUnauthorized {
		writeErrorFromErr(w, &errors.ForbiddenError{
			Resource: "transformation service",
			Reason:   "the user profile does not allow access",
		})
		return id, profile, false
	}
	return id, profile, true
}

// requireManager is authorize plus a manager profile check for admin routes.
func (r *Router) requireManager(w http.ResponseWriter, req *http.Request) (Identity, bool) {
	id, profile, ok := r.authorize(w, req)
	if !ok {
		return id, false
	}
	if profile != config.ProfileManager {
		writeErrorFromErr(w, &errors.ForbiddenError{
			Resource: "administration API",
			Reason:   "a manager profile is required",
		})
		return id, false
	}
	return id, true
}

// handleSubmit handles POST /TransformationOrders.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	id, _, ok := r.authorize(w, req)
	if !ok {
		return
	}

	var body submitBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErrorFromErr(w, &errors.ValidationError{
			Field:   "body",
			Message: "invalid JSON payload: " + err.Error(),
		})
		return
	}
	if body.WorkflowId == "" {
		writeErrorFromErr(w, &errors.ValidationError{
			Field:   "WorkflowId",
			Message: "WorkflowId is required",
		})
		return
	}

	info, created, err := r.queue.Submit(req.Context(), orders.SubmitRequest{
		UserID:                id.Username,
		UserRoles:             id.Roles,
		WorkflowID:            body.WorkflowId,
		InputProductReference: body.InputProductReference,
		WorkflowOptions:       body.WorkflowOptions,
	})
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", fmt.Sprintf("/TransformationOrders('%s')", info.Id))
	}
	WriteJSON(w, status, info)
}

// handleListOrders handles GET /TransformationOrders with optional $filter
// and $count. Non-manager callers only see their own orders.
func (r *Router) handleListOrders(w http.ResponseWriter, req *http.Request) {
	id, profile, ok := r.authorize(w, req)
	if !ok {
		return
	}

	filters, err := ParseFilter(req.URL.Query().Get("$filter"))
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	infos, err := r.queue.List(filters, id.Username, profile == config.ProfileManager)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	sortOrders(infos)

	var count *int
	if req.URL.Query().Get("$count") == "true" {
		n := len(infos)
		count = &n
	}
	WriteCollection(w, "$metadata#TransformationOrders", infos, count)
}

// handleListWorkflows handles GET /Workflows with an optional
// InputProductType equality filter.
func (r *Router) handleListWorkflows(w http.ResponseWriter, req *http.Request) {
	if _, _, ok := r.authorize(w, req); !ok {
		return
	}

	filters, err := ParseFilter(req.URL.Query().Get("$filter"))
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	all := r.registry.All()
	for _, filter := range filters {
		if filter.Field != "InputProductType" || filter.Op != "eq" {
			writeErrorFromErr(w, &errors.ValidationError{
				Field:      "$filter",
				Message:    fmt.Sprintf("workflows can not be filtered by %q %s", filter.Field, filter.Op),
				Suggestion: "the only supported workflow filter is: InputProductType eq '<type>'",
			})
			return
		}
		// conjunctions intersect
		matched := r.registry.Filter(filter.Value)
		for id := range all {
			if _, ok := matched[id]; !ok {
				delete(all, id)
			}
		}
	}

	value := make([]*workflows.Descriptor, 0, len(all))
	for _, descriptor := range all {
		value = append(value, descriptor)
	}
	sort.Slice(value, func(i, j int) bool { return value[i].Id < value[j].Id })

	WriteCollection(w, "$metadata#Workflows", value, nil)
}

// handleEntity handles keyed OData paths such as
// /TransformationOrders('<id>') and /Workflows('<id>').
func (r *Router) handleEntity(w http.ResponseWriter, req *http.Request) {
	name, key, ok := parseODataKey(req.PathValue("entity"))
	if !ok || key == "" {
		WriteError(w, http.StatusNotFound, "resource not found")
		return
	}
	if _, _, ok := r.authorize(w, req); !ok {
		return
	}

	switch name {
	case "TransformationOrders":
		order, err := r.queue.Get(key)
		if err != nil {
			writeErrorFromErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, order.Info(r.queue.URIRoot()))

	case "Workflows":
		descriptor, err := r.registry.ByID(key)
		if err != nil {
			writeErrorFromErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, descriptor)

	default:
		WriteError(w, http.StatusNotFound, "resource not found")
	}
}

// handleEntitySub handles /TransformationOrders('<id>')/Log.
func (r *Router) handleEntitySub(w http.ResponseWriter, req *http.Request) {
	name, key, ok := parseODataKey(req.PathValue("entity"))
	if !ok || key == "" || name != "TransformationOrders" || req.PathValue("sub") != "Log" {
		WriteError(w, http.StatusNotFound, "resource not found")
		return
	}
	if _, _, ok := r.authorize(w, req); !ok {
		return
	}

	order, err := r.queue.Get(key)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	events, err := order.Log(req.Context())
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	lines := make([]string, 0, len(events))
	for _, event := range events {
		lines = append(lines, event.String())
	}
	WriteCollection(w, "$metadata#TransformationOrders/Log", lines, nil)
}

// handleAdminOrders handles GET /admin/TransformationOrders: every order in
// the queue regardless of ownership. Manager profile required.
func (r *Router) handleAdminOrders(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireManager(w, req); !ok {
		return
	}

	filters, err := ParseFilter(req.URL.Query().Get("$filter"))
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	infos, err := r.queue.List(filters, "", true)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	sortOrders(infos)

	var count *int
	if req.URL.Query().Get("$count") == "true" {
		n := len(infos)
		count = &n
	}
	WriteCollection(w, "$metadata#TransformationOrders", infos, count)
}

// handleEvictions handles POST /admin/Evictions: force an eviction pass and
// report what was removed. Manager profile required.
func (r *Router) handleEvictions(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireManager(w, req); !ok {
		return
	}
	evicted := r.queue.Evict()
	if evicted == nil {
		evicted = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"evicted": evicted,
		"count":   len(evicted),
	})
}

// sortOrders orders listings by submission date, oldest first, with the id
// as the tie breaker so listings are stable.
func sortOrders(infos []orders.Info) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].SubmissionDate != infos[j].SubmissionDate {
			return infos[i].SubmissionDate < infos[j].SubmissionDate
		}
		return infos[i].Id < infos[j].Id
	})
}
