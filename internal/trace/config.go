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

// Package trace builds, signs, and pushes provenance traces for output
// products. Signing delegates to the external trace tool; pushing talks to
// the traceability service over HTTP.
package trace

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/transformd/pkg/errors"
)

// Config holds the traceability service settings.
type Config struct {
	URLAccessToken string `yaml:"url_access_token"`
	URLPushTrace   string `yaml:"url_push_trace"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Passphrase     string `yaml:"passphrase"`
	KeyFingerprint string `yaml:"key_fingerprint"`

	EventType       string `yaml:"event_type"`
	ServiceContext  string `yaml:"service_context"`
	ServiceProvider string `yaml:"service_provider"`
	ServiceType     string `yaml:"service_type"`
}

// LoadConfig reads the traceability configuration. With path empty the
// TRACEABILITY_CONFIG_FILE environment variable is consulted, defaulting to
// ./traceability_config.yaml.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRACEABILITY_CONFIG_FILE")
	}
	if path == "" {
		path = "./traceability_config.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{
			Reason: "reading traceability configuration " + path,
			Cause:  err,
		}
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &errors.ConfigError{
			Reason: "invalid traceability configuration",
			Cause:  err,
		}
	}
	if cfg.URLAccessToken == "" || cfg.URLPushTrace == "" {
		return nil, &errors.ConfigError{
			Reason: "traceability configuration requires url_access_token and url_push_trace",
		}
	}
	return &cfg, nil
}

// TracetoolPath returns the external trace tool location, from the
// TRACETOOL_FILE environment variable by default.
func TracetoolPath() string {
	if path := os.Getenv("TRACETOOL_FILE"); path != "" {
		return path
	}
	return "/opt/tracetool-1.2.4.jar"
}

// KeyPath returns the data producer key location, from the KEY_FILE
// environment variable by default.
func KeyPath() string {
	if path := os.Getenv("KEY_FILE"); path != "" {
		return path
	}
	return "./secret.txt"
}
