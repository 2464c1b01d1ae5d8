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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/transformd/internal/config"
)

func TestIdentityFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Username", "  alice ")
	req.Header.Set("X-Roles", "role_a, role_b,,role_c ")

	id := identityFromRequest(req)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, []string{"role_a", "role_b", "role_c"}, id.Roles)
}

func TestIdentityFromRequestAnonymous(t *testing.T) {
	id := identityFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, id.Username)
	assert.Empty(t, id.Roles)
}

func TestIdentityProfile(t *testing.T) {
	roles := config.Roles{
		config.DefaultRoleName: {Quota: 2, Profile: config.ProfileUser},
		"managers":             {Quota: 10, Profile: config.ProfileManager},
		"guests":               {Quota: 1, Profile: config.ProfileUnauthorized},
		"plain":                {Quota: 2, Profile: config.ProfileUser},
	}

	tests := []struct {
		name string
		id   Identity
		want config.Profile
	}{
		{"manager wins over everything", Identity{Roles: []string{"guests", "managers"}}, config.ProfileManager},
		{"user wins over unauthorized", Identity{Roles: []string{"guests", "plain"}}, config.ProfileUser},
		{"unauthorized alone", Identity{Roles: []string{"guests"}}, config.ProfileUnauthorized},
		{"unmapped roles fall back to default", Identity{Roles: []string{"nope"}}, config.ProfileUser},
		{"no roles fall back to default", Identity{}, config.ProfileUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.Profile(roles))
		})
	}
}

func TestIdentityProfileEmptyDefault(t *testing.T) {
	// a roles table whose default entry carries no profile grants user
	roles := config.Roles{config.DefaultRoleName: {Quota: 2}}
	assert.Equal(t, config.ProfileUser, Identity{}.Profile(roles))
}
