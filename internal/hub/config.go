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

// Package hub downloads input products from the configured data hubs.
package hub

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tombee/transformd/pkg/errors"
)

// API types recognized in the hubs configuration.
const (
	APITypeCsc  = "csc-api"
	APITypeDhus = "dhus-api"
)

// Auth schemes for csc-api hubs.
const (
	AuthBasic  = "basic"
	AuthOAuth2 = "oauth2"
)

// Credentials holds the per-hub endpoint and account settings.
type Credentials struct {
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	APIURL        string `yaml:"api_url"`
	Version       string `yaml:"version"`
	ClientID      string `yaml:"client_id"`
	TokenEndpoint string `yaml:"token_endpoint"`
}

// Config describes one hub entry from the hubs credentials file.
type Config struct {
	Name         string      `yaml:"-"`
	APIType      string      `yaml:"api_type"`
	Auth         string      `yaml:"auth"`
	QueryAuth    bool        `yaml:"query_auth"`
	DownloadAuth bool        `yaml:"download_auth"`
	Credentials  Credentials `yaml:"credentials"`
}

// ParseHubs parses the hubs credentials YAML. The file is a mapping of hub
// name to hub config; download attempts follow the file order, so the order
// of the mapping keys is preserved.
func ParseHubs(raw []byte) ([]Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &errors.ConfigError{
			Reason: "invalid hubs configuration",
			Cause:  err,
		}
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &errors.ConfigError{
			Reason: "hubs configuration must be a mapping of hub name to settings",
		}
	}

	hubs := make([]Config, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var cfg Config
		if err := root.Content[i+1].Decode(&cfg); err != nil {
			return nil, &errors.ConfigError{
				Key:    name,
				Reason: "invalid hub entry",
				Cause:  err,
			}
		}
		cfg.Name = name
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		hubs = append(hubs, cfg)
	}
	return hubs, nil
}

func (c *Config) validate() error {
	if c.APIType == "" {
		c.APIType = APITypeDhus
	}
	if c.APIType != APITypeCsc && c.APIType != APITypeDhus {
		return &errors.ConfigError{
			Key:    c.Name,
			Reason: fmt.Sprintf("api_type %q not recognized, must be %s or %s", c.APIType, APITypeCsc, APITypeDhus),
		}
	}
	if c.Credentials.APIURL == "" {
		return &errors.ConfigError{
			Key:    c.Name,
			Reason: "credentials.api_url is required",
		}
	}
	if c.APIType == APITypeCsc && (c.QueryAuth || c.DownloadAuth) {
		switch c.Auth {
		case AuthBasic, AuthOAuth2:
		default:
			return &errors.ConfigError{
				Key:    c.Name,
				Reason: fmt.Sprintf("auth %q is not valid, must be %s or %s", c.Auth, AuthBasic, AuthOAuth2),
			}
		}
	}
	if c.Credentials.Version == "" {
		c.Credentials.Version = "v1"
	}
	return nil
}
