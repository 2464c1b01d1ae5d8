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
	"sync"

	"golang.org/x/oauth2"

	"github.com/tombee/transformd/pkg/errors"
	"github.com/tombee/transformd/pkg/httpclient"
)

// cscAdapter talks to a Copernicus Space Component OData catalog.
type cscAdapter struct {
	name         string
	apiURL       *url.URL
	queryAuth    bool
	downloadAuth bool

	// setAuth attaches credentials to a request, nil when the hub needs none.
	setAuth func(*http.Request) error

	queryClient    *http.Client
	downloadClient *http.Client
	logger         *slog.Logger
}

func newCscAdapter(cfg Config, logger *slog.Logger) (*cscAdapter, error) {
	base, err := url.Parse(cfg.Credentials.APIURL)
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    cfg.Name,
			Reason: "invalid api_url",
			Cause:  err,
		}
	}
	apiURL := base.JoinPath("odata", cfg.Credentials.Version)

	queryCfg := httpclient.DefaultConfig()
	queryClient, err := httpclient.New(queryCfg)
	if err != nil {
		return nil, err
	}

	// Downloads stream multi-GB bodies: no total timeout, no retries, and
	// redirects handled manually for credential stripping.
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

	a := &cscAdapter{
		name:           cfg.Name,
		apiURL:         apiURL,
		queryAuth:      cfg.QueryAuth,
		downloadAuth:   cfg.DownloadAuth,
		queryClient:    queryClient,
		downloadClient: downloadClient,
		logger:         logger,
	}

	if cfg.QueryAuth || cfg.DownloadAuth {
		switch cfg.Auth {
		case AuthBasic:
			user, password := cfg.Credentials.User, cfg.Credentials.Password
			a.setAuth = func(req *http.Request) error {
				req.SetBasicAuth(user, password)
				return nil
			}
			logger.Info("using basic authentication", "hub", cfg.Name, "api_url", cfg.Credentials.APIURL)
		case AuthOAuth2:
			source := oauth2.ReuseTokenSource(nil, &passwordTokenSource{
				conf: &oauth2.Config{
					ClientID: cfg.Credentials.ClientID,
					Endpoint: oauth2.Endpoint{TokenURL: cfg.Credentials.TokenEndpoint},
				},
				user:     cfg.Credentials.User,
				password: cfg.Credentials.Password,
			})
			a.setAuth = func(req *http.Request) error {
				token, err := source.Token()
				if err != nil {
					return fmt.Errorf("fetching oauth2 token: %w", err)
				}
				token.SetAuthHeader(req)
				return nil
			}
			logger.Info("using oauth2 authentication", "hub", cfg.Name, "api_url", cfg.Credentials.APIURL)
		}
	}
	return a, nil
}

// passwordTokenSource re-runs the resource-owner password grant whenever the
// current token expires. Wrapped in ReuseTokenSource, it only fires when a
// fresh token is actually needed.
type passwordTokenSource struct {
	conf     *oauth2.Config
	user     string
	password string

	mu sync.Mutex
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf.PasswordCredentialsToken(context.Background(), s.user, s.password)
}

func (a *cscAdapter) Name() string {
	return a.name
}

// cscProduct is the catalog entry shape returned by the OData query.
type cscProduct struct {
	Id       string `json:"Id"`
	Name     string `json:"Name"`
	Checksum []struct {
		Value     string `json:"Value"`
		Algorithm string `json:"Algorithm"`
	} `json:"Checksum"`
}

// Resolve queries the catalog by product name prefix and returns the first
// hit with its download URL and advertised checksum.
func (a *cscAdapter) Resolve(ctx context.Context, product string) (ResolvedProduct, error) {
	name := stem(product)
	query := a.apiURL.JoinPath("Products")
	query.RawQuery = url.Values{
		"$filter": []string{fmt.Sprintf("startswith(Name,'%s')", name)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query.String(), nil)
	if err != nil {
		return ResolvedProduct{}, err
	}
	if a.queryAuth && a.setAuth != nil {
		if err := a.setAuth(req); err != nil {
			return ResolvedProduct{}, err
		}
	}

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
		Value []cscProduct `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ResolvedProduct{}, &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "decoding catalog response", Cause: err,
		}
	}
	if len(payload.Value) == 0 {
		return ResolvedProduct{}, &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "not found in catalog",
		}
	}

	hit := payload.Value[0]
	a.logger.Info("product found", "hub", a.name, "product", name)

	resolved := ResolvedProduct{
		ID:          hit.Id,
		DownloadURL: a.apiURL.JoinPath(fmt.Sprintf("Products(%s)", hit.Id), "$value").String(),
	}
	for _, checksum := range hit.Checksum {
		if digest := usableMD5(checksum.Algorithm, checksum.Value); digest != "" {
			resolved.ExpectedMD5 = digest
			break
		}
	}
	return resolved, nil
}

// Download resolves the product and streams it into dir, verifying the MD5
// when the catalog advertises one.
func (a *cscAdapter) Download(ctx context.Context, product, dir string) (string, error) {
	resolved, err := a.Resolve(ctx, product)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.DownloadURL, nil)
	if err != nil {
		return "", err
	}
	var setAuth func(*http.Request) error
	if a.downloadAuth && a.setAuth != nil {
		setAuth = a.setAuth
		if err := setAuth(req); err != nil {
			return "", err
		}
	}

	a.logger.Info("trying to download product", "hub", a.name, "product", product)
	resp, err := a.downloadClient.Do(req)
	if err != nil {
		return "", &errors.DownloadError{
			Hub: a.name, Product: product,
			Message: "download request failed", Cause: err,
		}
	}

	resp, err = followRedirects(ctx, a.downloadClient, setAuth, resp, a.apiURL)
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

	path, err := fetchToFile(resp, dir, product, resolved.ExpectedMD5, a.name, a.logger)
	if err != nil {
		return "", err
	}
	a.logger.Info("product downloaded", "hub", a.name, "product", product)
	return path, nil
}
