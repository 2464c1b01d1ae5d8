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

package config

import (
	"gopkg.in/yaml.v3"

	"github.com/tombee/transformd/pkg/errors"
)

// Profile classifies the capabilities attached to a role.
type Profile string

const (
	ProfileUser         Profile = "user"
	ProfileManager      Profile = "manager"
	ProfileUnauthorized Profile = "unauthorized"
)

// DefaultRoleName is the mandatory entry of the roles config used for users
// whose roles map to nothing.
const DefaultRoleName = "default_role"

// Role couples a quota with a profile.
type Role struct {
	// Quota is the maximum number of simultaneous non-terminal orders.
	Quota int `yaml:"quota"`

	// Profile is one of user, manager, unauthorized.
	Profile Profile `yaml:"profile"`
}

// Roles is the role → quota/profile mapping loaded from ROLES_CONFIG_FILE.
// The default_role entry is mandatory.
type Roles map[string]Role

// Default returns the mandatory default role.
func (r Roles) Default() Role {
	return r[DefaultRoleName]
}

// ParseRoles parses and validates a roles configuration document.
// A missing default_role entry is a fatal configuration error.
func ParseRoles(raw []byte) (Roles, error) {
	var roles Roles
	if err := yaml.Unmarshal(raw, &roles); err != nil {
		return nil, &errors.ConfigError{
			Reason: "invalid roles configuration",
			Cause:  err,
		}
	}
	def, ok := roles[DefaultRoleName]
	if !ok {
		return nil, &errors.ConfigError{
			Key:    DefaultRoleName,
			Reason: "default role entry is mandatory in the roles configuration",
		}
	}
	if def.Quota <= 0 {
		return nil, &errors.ConfigError{
			Key:    DefaultRoleName,
			Reason: "default role quota must be positive",
		}
	}
	for name, role := range roles {
		switch role.Profile {
		case ProfileUser, ProfileManager, ProfileUnauthorized:
		case "":
			role.Profile = ProfileUser
			roles[name] = role
		default:
			return nil, &errors.ConfigError{
				Key:    name,
				Reason: "profile must be one of user, manager, unauthorized",
			}
		}
	}
	return roles, nil
}

// NewRolesCache returns a reloading cache over the roles config file.
func NewRolesCache(path string) *FileCache[Roles] {
	return NewFileCache(path, ParseRoles)
}
