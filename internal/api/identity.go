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
	"net/http"
	"strings"

	"github.com/tombee/transformd/internal/config"
)

// Identity is the caller identity asserted by the fronting proxy through
// the X-Username and X-Roles headers. transformd trusts these headers; the
// proxy terminates the actual authentication.
type Identity struct {
	// Username is the authenticated user, or empty for anonymous callers.
	Username string

	// Roles are the role names attached to the user.
	Roles []string
}

// identityFromRequest extracts the caller identity from the headers.
func identityFromRequest(req *http.Request) Identity {
	id := Identity{Username: strings.TrimSpace(req.Header.Get("X-Username"))}
	for _, role := range strings.Split(req.Header.Get("X-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			id.Roles = append(id.Roles, role)
		}
	}
	return id
}

// Profile resolves the caller's effective profile against the roles
// configuration: the most capable profile among the mapped roles, the
// default role's profile when none of the roles map.
func (id Identity) Profile(roles config.Roles) config.Profile {
	profile := config.Profile("")
	for _, role := range id.Roles {
		entry, ok := roles[role]
		if !ok {
			continue
		}
		switch entry.Profile {
		case config.ProfileManager:
			return config.ProfileManager
		case config.ProfileUser:
			profile = config.ProfileUser
		case config.ProfileUnauthorized:
			if profile == "" {
				profile = config.ProfileUnauthorized
			}
		}
	}
	if profile == "" {
		profile = roles.Default().Profile
		if profile == "" {
			profile = config.ProfileUser
		}
	}
	return profile
}
