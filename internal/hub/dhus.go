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

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tombee/transformd/pkg/errors"
	"github.com/tombee/transformd/pkg/httpclient"
)

// dhusAdapter talks to a legacy Data Hub Software (DHuS) OData catalog.
// DHuS endpoints always use basic authentication.
type dhusAdapter struct {
	name     string
	apiURL   *url.URL
	user     string
	password string

	queryClient    *http.Client
	downloadClient *http.Client
	logger         *slog.Logger
}

func newDhusAdapter(cfg Config, logger *slog.Logger) (*dhusAdapter, error) {
	base, err := url.Parse(cfg.Credentials.APIURL)
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    cfg.Name,
			Reason: "invalid api_url",
			Cause:  err,
		}
	}

	queryClient, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		return nil, err
	}

	downloadCfg := httpclient.DefaultConfig()
	downloadCfg.Timeout = 0
	downloadCfg.RetryAttempts = 0
	downloadCfg.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	downloadClient, err := httpclient.New(downloadCfg)
	if err != nil {
		return nil, err
	}

	return &dhusAdapter{
		name:           cfg.Name,
		apiURL:         base.JoinPath("odata", "v1"),
		user:           cfg.Credentials.User,
		password:       cfg.Credentials.Password,
		queryClient:    queryClient,
		downloadClient: downloadClient,
		logger:         logger,
	}, nil
}

func (a *dhusAdapter) Name() string {
	return a.name
}

func (a *dhusAdapter) setAuth(req *http.Request) error {
	req.SetBasicAuth(a.user, a.password)
	return nil
}

// Resolve looks the product up by exact identifier.
func (a *dhusAdapter) Resolve(ctx context.Context, product string) (ResolvedProduct, error) {
	name := stem(product)
	query := a.apiURL.JoinPath("Products")
	query.RawQuery = url.Values{
		"$filter": []string{fmt.Sprintf("Name eq '%s'", name)},
		"$format": []string{"json"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query.String(), nil)
	if err != nil {
		return ResolvedProduct{}, err
	}
	a.setAuth(req)

	resp, err := a.queryClient.Do(req)
	if err != nil {
		return ResolvedProduct{}, &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "catalog query failed", Cause: err,
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ResolvedProduct{}, &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: fmt.Sprintf("catalog query returned status %d", resp.StatusCode),
		}
	}

	var payload struct {
		Value []struct {
			Id       string `json:"Id"`
			Checksum struct {
				Value     string `json:"Value"`
				Algorithm string `json:"Algorithm"`
			} `json:"Checksum"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ResolvedProduct{}, &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "decoding catalog response", Cause: err,
		}
	}
	switch len(payload.Value) {
	case 0:
		return ResolvedProduct{}, &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "not found in catalog",
		}
	case 1:
	default:
		return ResolvedProduct{}, &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: fmt.Sprintf("multiple products found (%d)", len(payload.Value)),
		}
	}

	hit := payload.Value[0]
	return ResolvedProduct{
		ID:          hit.Id,
		DownloadURL: a.apiURL.JoinPath(fmt.Sprintf("Products('%s')", hit.Id), "$value").String(),
		ExpectedMD5: usableMD5(hit.Checksum.Algorithm, hit.Checksum.Value),
	}, nil
}

// Download resolves the product and streams it into dir.
func (a *dhusAdapter) Download(ctx context.Context, product, dir string) (string, error) {
	resolved, err := a.Resolve(ctx, product)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.DownloadURL, nil)
	if err != nil {
		return "", err
	}
	a.setAuth(req)

	a.logger.Info("trying to download product", "hub", a.name, "product", product)
	resp, err := a.downloadClient.Do(req)
	if err != nil {
		return "", &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "download request failed", Cause: err,
		}
	}

	resp, err = followRedirects(ctx, a.downloadClient, a.setAuth, resp, a.apiURL)
	if err != nil {
		return "", &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "following download redirects", Cause: err,
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: fmt.Sprintf("download returned status %d", resp.StatusCode),
		}
	}

	return fetchToFile(resp, dir, product, resolved.ExpectedMD5, a.name, a.logger)
}
