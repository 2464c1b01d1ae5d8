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
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/transformd/pkg/errors"
)

// newCatalogServer serves an anonymous csc-style catalog. When found is
// false every lookup misses.
func newCatalogServer(t *testing.T, found bool, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/odata/v1/Products":
			if !found {
				fmt.Fprint(w, `{"value":[]}`)
				return
			}
			fmt.Fprint(w, `{"value":[{"Id":"42","Checksum":[]}]}`)
		case strings.HasSuffix(r.URL.Path, "/$value"):
			w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
}

func writeHubsFile(t *testing.T, entries ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hubs_credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(entries, "\n")), 0o600))
	return path
}

func hubEntry(name, apiURL string) string {
	return fmt.Sprintf("%s:\n  api_type: csc-api\n  credentials:\n    api_url: %s\n", name, apiURL)
}

func TestDownloadFallsBackAcrossHubs(t *testing.T) {
	body, _ := makeProductZip(t)
	missing := newCatalogServer(t, false, nil)
	defer missing.Close()
	serving := newCatalogServer(t, true, body)
	defer serving.Close()

	hubsFile := writeHubsFile(t,
		hubEntry("first_hub", missing.URL),
		hubEntry("second_hub", serving.URL))

	d := NewDownloader(hubsFile, false, discardLogger())
	path, err := d.Download(context.Background(), testProduct, t.TempDir(), "", nil)
	require.NoError(t, err)
	assert.Contains(t, path, stem(testProduct)+".zip")
}

func TestDownloadAllHubsExhausted(t *testing.T) {
	missing := newCatalogServer(t, false, nil)
	defer missing.Close()

	hubsFile := writeHubsFile(t, hubEntry("only_hub", missing.URL))

	d := NewDownloader(hubsFile, false, discardLogger())
	_, err := d.Download(context.Background(), testProduct, t.TempDir(), "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsDownload(err))
	assert.Contains(t, err.Error(), "only_hub")
}

func TestDownloadPreferredHub(t *testing.T) {
	body, _ := makeProductZip(t)
	serving := newCatalogServer(t, true, body)
	defer serving.Close()

	hubsFile := writeHubsFile(t, hubEntry("named_hub", serving.URL))
	d := NewDownloader(hubsFile, false, discardLogger())

	_, err := d.Download(context.Background(), testProduct, t.TempDir(), "named_hub", nil)
	require.NoError(t, err)

	_, err = d.Download(context.Background(), testProduct, t.TempDir(), "no_such_hub", nil)
	require.Error(t, err)
	assert.True(t, errors.IsDownload(err))
	assert.Contains(t, err.Error(), "no_such_hub")
}

func TestDownloadRemovesPartialFileOnStreamError(t *testing.T) {
	body, _ := makeProductZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/odata/v1/Products":
			fmt.Fprint(w, `{"value":[{"Id":"42","Checksum":[]}]}`)
		case strings.HasSuffix(r.URL.Path, "/$value"):
			// advertise more bytes than are sent so the client read fails
			w.Header().Set("Content-Length", fmt.Sprint(len(body)+4096))
			w.Write(body[:len(body)/2])
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	hubsFile := writeHubsFile(t, hubEntry("flaky_hub", srv.URL))
	d := NewDownloader(hubsFile, false, discardLogger())

	dir := t.TempDir()
	_, err := d.Download(context.Background(), testProduct, dir, "flaky_hub", nil)
	require.Error(t, err)

	// a truncated zip must not be left behind for a later run to reuse
	_, statErr := os.Stat(filepath.Join(dir, stem(testProduct)+".zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadDebugReusesLocalCopy(t *testing.T) {
	dir := t.TempDir()
	reuse := filepath.Join(dir, stem(testProduct)+".zip")
	require.NoError(t, os.WriteFile(reuse, []byte("cached"), 0o644))

	// no hubs file on disk: the cached copy must short-circuit everything
	d := NewDownloader(filepath.Join(t.TempDir(), "missing.yaml"), true, discardLogger())
	path, err := d.Download(context.Background(), testProduct, dir, "", nil)
	require.NoError(t, err)
	assert.Equal(t, reuse, path)
}
