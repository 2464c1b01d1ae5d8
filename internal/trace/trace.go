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

package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/tombee/transformd/pkg/httpclient"
)

// Trace is one provenance trace being assembled on disk. The trace file is
// JSON; the external trace tool adds the hash and signature fields in place.
type Trace struct {
	cfg       *Config
	tracetool string
	keyPath   string

	// Path is the trace JSON file location.
	Path string

	content map[string]any
	signed  bool
}

// Attributes describe the output product a trace refers to.
type Attributes struct {
	BeginningDateTime string
	PlatformShortName string
	ProductType       string
	ProcessorName     string
	ProcessorVersion  string
}

// New initializes a trace file at path with the service and product
// attributes filled in.
func New(cfg *Config, path string, attrs Attributes) (*Trace, error) {
	t := &Trace{
		cfg:       cfg,
		tracetool: TracetoolPath(),
		keyPath:   KeyPath(),
		Path:      path,
		content: map[string]any{
			"beginningDateTime": attrs.BeginningDateTime,
			"eventType":         cfg.EventType,
			"platformShortName": attrs.PlatformShortName,
			"processorName":     attrs.ProcessorName,
			"processorVersion":  attrs.ProcessorVersion,
			"productType":       attrs.ProductType,
			"serviceContext":    cfg.ServiceContext,
			"serviceProvider":   cfg.ServiceProvider,
			"serviceType":       cfg.ServiceType,
		},
	}
	if err := t.save(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trace) save() error {
	data, err := json.Marshal(t.content)
	if err != nil {
		return err
	}
	return os.WriteFile(t.Path, data, 0o644)
}

// reload reads the trace file back after the trace tool modified it.
func (t *Trace) reload() error {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &t.content)
}

// ID returns the trace identifier assigned during signing, empty before.
func (t *Trace) ID() string {
	id, _ := t.content["id"].(string)
	return id
}

// Hash adds the product hash and hash list to the trace via the trace tool.
func (t *Trace) Hash(ctx context.Context, productPath string) error {
	cmd := exec.CommandContext(ctx, "java", "-jar", t.tracetool,
		"--hash", productPath, t.Path)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("trace hashing failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return t.reload()
}

// Sign signs the trace with the data producer key. A signed trace can no
// longer be modified.
func (t *Trace) Sign(ctx context.Context) error {
	args := []string{"-jar", t.tracetool, "--sign", t.keyPath, t.Path}
	if t.cfg.Passphrase != "" {
		args = append(args, t.cfg.Passphrase)
	}
	cmd := exec.CommandContext(ctx, "java", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("trace signing failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	t.signed = true
	return t.reload()
}

// Push uploads the signed trace to the traceability service and deletes the
// local file on success. On failure the file stays for manual recovery.
func (t *Trace) Push(ctx context.Context) error {
	if !t.signed {
		return fmt.Errorf("trace must be signed before pushing")
	}

	client, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		return err
	}

	token, err := t.fetchAccessToken(ctx, client)
	if err != nil {
		return fmt.Errorf("fetching traceability access token: %w", err)
	}

	data, err := os.ReadFile(t.Path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.cfg.URLPushTrace, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pushing trace: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pushing trace: service returned status %d", resp.StatusCode)
	}

	return os.Remove(t.Path)
}

// fetchAccessToken performs the password-grant exchange with the
// traceability authentication service.
func (t *Trace) fetchAccessToken(ctx context.Context, client *http.Client) (string, error) {
	form := url.Values{
		"grant_type": []string{"password"},
		"username":   []string{t.cfg.Username},
		"password":   []string{t.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.cfg.URLAccessToken, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("trace-api", "")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication service returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("authentication service returned no access token")
	}
	return payload.AccessToken, nil
}
