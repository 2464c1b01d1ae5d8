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

// Package config provides transformd configuration: process settings read
// from the environment and reloadable YAML files (service, roles, hubs).
package config

import (
	"os"
	"strconv"
)

// Settings holds process-level configuration resolved once at startup.
// Reloadable configuration (service, roles, hubs) lives in YAML files read
// through mtime-cached loaders so operator edits take effect without restart.
type Settings struct {
	// ListenAddr is the TCP address the HTTP API listens on.
	ListenAddr string

	// PluginsDir is the directory scanned for workflow descriptors.
	PluginsDir string

	// WorkingDir is the root under which per-order processing directories
	// are created (WORKING_DIR).
	WorkingDir string

	// OutputDir is the root of the published output tree (OUTPUT_DIR).
	OutputDir string

	// TracesDir stores provenance trace files kept after push failures
	// (TRACES_DIR).
	TracesDir string

	// HubsCredentialsFile is the hubs YAML config (HUBS_CREDENTIALS_FILE).
	HubsCredentialsFile string

	// RolesConfigFile is the role/quota YAML config (ROLES_CONFIG_FILE).
	RolesConfigFile string

	// ServiceConfigFile is the service YAML config (ESA_TF_CONFIG_FILE).
	ServiceConfigFile string

	// SchedulerAddr is the worker pool endpoint (SCHEDULER). Empty selects
	// the in-process pool.
	SchedulerAddr string

	// MaxParallel caps concurrently executing jobs on the in-process pool.
	MaxParallel int

	// OutputOwnerID / OutputGroupOwnerID are applied to published outputs
	// via chown; -1 disables (OUTPUT_OWNER_ID, OUTPUT_GROUP_OWNER_ID).
	OutputOwnerID      int
	OutputGroupOwnerID int

	// EventsDBPath is the SQLite database holding per-order log events.
	EventsDBPath string

	// URIRoot is the external base URI used to build download URIs.
	URIRoot string

	// Debug keeps processing directories and reuses already-downloaded
	// products (TF_DEBUG).
	Debug bool
}

// Default returns Settings with the documented defaults.
func Default() *Settings {
	return &Settings{
		ListenAddr:          "127.0.0.1:8080",
		PluginsDir:          "./plugins",
		WorkingDir:          "./working_dir",
		OutputDir:           "./output_dir",
		TracesDir:           "./traces",
		HubsCredentialsFile: "./hubs_credentials.yaml",
		RolesConfigFile:     "./roles.yaml",
		ServiceConfigFile:   "./esa_tf.yaml",
		MaxParallel:         4,
		OutputOwnerID:       -1,
		OutputGroupOwnerID:  -1,
		EventsDBPath:        "./order_events.db",
	}
}

// FromEnv returns Settings overridden by environment variables.
func FromEnv() *Settings {
	s := Default()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		s.ListenAddr = v
	}
	if v := os.Getenv("PLUGINS_DIR"); v != "" {
		s.PluginsDir = v
	}
	if v := os.Getenv("WORKING_DIR"); v != "" {
		s.WorkingDir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		s.OutputDir = v
	}
	if v := os.Getenv("TRACES_DIR"); v != "" {
		s.TracesDir = v
	}
	if v := os.Getenv("HUBS_CREDENTIALS_FILE"); v != "" {
		s.HubsCredentialsFile = v
	}
	if v := os.Getenv("ROLES_CONFIG_FILE"); v != "" {
		s.RolesConfigFile = v
	}
	if v := os.Getenv("ESA_TF_CONFIG_FILE"); v != "" {
		s.ServiceConfigFile = v
	}
	if v := os.Getenv("SCHEDULER"); v != "" {
		s.SchedulerAddr = v
	}
	if v := os.Getenv("OUTPUT_OWNER_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			s.OutputOwnerID = id
		}
	}
	if v := os.Getenv("OUTPUT_GROUP_OWNER_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			s.OutputGroupOwnerID = id
		}
	}
	if v := os.Getenv("MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxParallel = n
		}
	}
	if v := os.Getenv("EVENTS_DB_PATH"); v != "" {
		s.EventsDBPath = v
	}
	if v := os.Getenv("URI_ROOT"); v != "" {
		s.URIRoot = v
	}
	if v := os.Getenv("TF_DEBUG"); v != "" && v != "0" {
		s.Debug = true
	}

	return s
}
