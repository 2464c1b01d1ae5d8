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
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/transformd/internal/config"
	"github.com/tombee/transformd/internal/events"
	"github.com/tombee/transformd/internal/hub"
	"github.com/tombee/transformd/internal/orders"
	"github.com/tombee/transformd/internal/runner"
	"github.com/tombee/transformd/internal/worker"
	"github.com/tombee/transformd/internal/workflows"
)

const testProduct = "S2A_MSIL1C_20211117T103251_N0301_R108_T31TEJ_20211117T124214.zip"

func init() {
	workflows.RegisterExecute("api_stub", func(ctx context.Context, req workflows.ExecuteRequest) (string, error) {
		out := filepath.Join(req.OutputDir, "OUT.SAFE")
		if err := os.MkdirAll(out, 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(out, "data.bin"), []byte("transformed"), 0o644); err != nil {
			return "", err
		}
		return out, nil
	})
}

type apiFixture struct {
	router *Router
	queue  *orders.Queue
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("IN.SAFE/manifest.safe")
	require.NoError(t, err)
	_, err = entry.Write([]byte("<manifest/>"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	productZip := buf.Bytes()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/odata/v1/Products":
			fmt.Fprint(w, `{"value":[{"Id":"42","Checksum":[]}]}`)
		case strings.HasSuffix(r.URL.Path, "/$value"):
			w.Write(productZip)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	hubsFile := filepath.Join(root, "hubs_credentials.yaml")
	require.NoError(t, os.WriteFile(hubsFile, []byte(fmt.Sprintf(
		"test_hub:\n  api_type: csc-api\n  credentials:\n    api_url: %s\n", srv.URL)), 0o600))

	serviceFile := filepath.Join(root, "esa_tf.yaml")
	require.NoError(t, os.WriteFile(serviceFile,
		[]byte("keeping_period: 1\nenable_traceability: false\nenable_monitoring: false\n"), 0o600))

	rolesFile := filepath.Join(root, "roles.yaml")
	require.NoError(t, os.WriteFile(rolesFile, []byte(`
default_role:
  quota: 4
managers:
  quota: 10
  profile: manager
guests:
  quota: 1
  profile: unauthorized
`), 0o600))

	pluginsDir := filepath.Join(root, "plugins")
	require.NoError(t, os.MkdirAll(pluginsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "resample.yaml"), []byte(`
Id: resample
WorkflowName: Resampler
Description: Resamples a product
Execute: api_stub
InputProductType: S2MSI1C
OutputProductType: S2MSI2A
WorkflowVersion: "0.1"
WorkflowOptions: {}
`), 0o644))

	settings := config.Default()
	settings.WorkingDir = filepath.Join(root, "working")
	settings.OutputDir = filepath.Join(root, "output")
	settings.TracesDir = filepath.Join(root, "traces")
	settings.PluginsDir = pluginsDir
	settings.HubsCredentialsFile = hubsFile
	settings.RolesConfigFile = rolesFile
	settings.ServiceConfigFile = serviceFile
	settings.URIRoot = "http://files.example/"

	registry, err := workflows.Load(pluginsDir, logger)
	require.NoError(t, err)

	store, err := events.NewStore(events.Config{Path: filepath.Join(root, "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	recorder := events.NewRecorder(store, logger)

	pool := worker.NewPool(4, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	service := config.NewServiceCache(serviceFile)
	roles := config.NewRolesCache(rolesFile)
	downloader := hub.NewDownloader(hubsFile, false, logger)
	jobRunner := runner.New(settings, service, downloader, recorder)

	queue := orders.NewQueue(orders.QueueConfig{
		Settings: settings,
		Service:  service,
		Roles:    roles,
		Registry: registry,
		Pool:     pool,
		Runner:   jobRunner,
		Recorder: recorder,
		Logger:   logger,
	})

	router := NewRouter(RouterConfig{Version: "1.2.3", Commit: "abc", BuildDate: "today"},
		queue, registry, roles, logger)
	return &apiFixture{router: router, queue: queue}
}

// do performs one request against the router with the identity headers set.
func (f *apiFixture) do(method, target, user, roles string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			payload, _ := json.Marshal(b)
			reader = bytes.NewReader(payload)
		}
	}
	req := httptest.NewRequest(method, target, reader)
	if user != "" {
		req.Header.Set("X-Username", user)
	}
	if roles != "" {
		req.Header.Set("X-Roles", roles)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func submitPayload(product string) map[string]any {
	return map[string]any{
		"WorkflowId":            "resample",
		"InputProductReference": map[string]any{"Reference": product},
	}
}

// submitAndWait submits one order and waits for its completion.
func (f *apiFixture) submitAndWait(t *testing.T, user, product string) orders.Info {
	t.Helper()
	rec := f.do(http.MethodPost, "/TransformationOrders", user, "", submitPayload(product))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info orders.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Eventually(t, func() bool {
		order, err := f.queue.Get(info.Id)
		if err != nil || order.Status() != orders.StatusCompleted {
			return false
		}
		_, stamped := order.CompletedTime()
		return stamped
	}, 10*time.Second, 10*time.Millisecond)
	return info
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestRootAndVersionEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transformd"`)
	assert.Contains(t, rec.Body.String(), `"1.2.3"`)

	rec = f.do(http.MethodGet, "/no/such/path", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/v1/version", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"abc"`)

	rec = f.do(http.MethodGet, "/v1/health", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(1), health["workflows"])
}

func TestSubmitCreatedThenDeduplicated(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/TransformationOrders", "alice", "", submitPayload(testProduct))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info orders.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.NotEmpty(t, info.Id)
	assert.Equal(t, fmt.Sprintf("/TransformationOrders('%s')", info.Id), rec.Header().Get("Location"))

	// the identical submission is a dedup hit: 200, no Location
	rec = f.do(http.MethodPost, "/TransformationOrders", "alice", "", submitPayload(testProduct))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))

	var again orders.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, info.Id, again.Id)
}

func TestSubmitRejectsBadPayloads(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/TransformationOrders", "alice", "", "{not json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/TransformationOrders", "alice", "",
		map[string]any{"InputProductReference": map[string]any{"Reference": testProduct}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "WorkflowId")

	// unknown workflow surfaces as not found
	rec = f.do(http.MethodPost, "/TransformationOrders", "alice", "",
		map[string]any{"WorkflowId": "nope",
			"InputProductReference": map[string]any{"Reference": testProduct}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnauthorizedProfileIsRejectedEverywhere(t *testing.T) {
	f := newAPIFixture(t)

	for _, target := range []struct{ method, path string }{
		{http.MethodPost, "/TransformationOrders"},
		{http.MethodGet, "/TransformationOrders"},
		{http.MethodGet, "/Workflows"},
		{http.MethodGet, "/TransformationOrders('abc')"},
	} {
		rec := f.do(target.method, target.path, "eve", "guests", submitPayload(testProduct))
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", target.method, target.path)
	}
}

func TestListOrdersVisibility(t *testing.T) {
	f := newAPIFixture(t)
	info := f.submitAndWait(t, "alice", testProduct)

	// the owner sees the order
	rec := f.do(http.MethodGet, "/TransformationOrders?$count=true", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, "$metadata#TransformationOrders", envelope["@odata.context"])
	assert.Equal(t, float64(1), envelope["@odata.count"])

	// another plain user does not
	rec = f.do(http.MethodGet, "/TransformationOrders", "bob", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeEnvelope(t, rec)["value"])

	// a manager sees everything regardless of ownership
	rec = f.do(http.MethodGet, "/TransformationOrders", "boss", "managers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	value := decodeEnvelope(t, rec)["value"].([]any)
	require.Len(t, value, 1)
	assert.Equal(t, info.Id, value[0].(map[string]any)["Id"])
}

func TestListOrdersFilter(t *testing.T) {
	f := newAPIFixture(t)
	info := f.submitAndWait(t, "alice", testProduct)

	filter := url.QueryEscape("Status eq 'completed'")
	rec := f.do(http.MethodGet, "/TransformationOrders?$filter="+filter, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	value := decodeEnvelope(t, rec)["value"].([]any)
	require.Len(t, value, 1)
	assert.Equal(t, info.Id, value[0].(map[string]any)["Id"])

	filter = url.QueryEscape("Status eq 'failed'")
	rec = f.do(http.MethodGet, "/TransformationOrders?$filter="+filter, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeEnvelope(t, rec)["value"])

	// a filter the queue rejects surfaces as a validation error
	filter = url.QueryEscape("WorkflowName eq 'x'")
	rec = f.do(http.MethodGet, "/TransformationOrders?$filter="+filter, "alice", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListWorkflows(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/Workflows", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, "$metadata#Workflows", envelope["@odata.context"])
	value := envelope["value"].([]any)
	require.Len(t, value, 1)
	assert.Equal(t, "resample", value[0].(map[string]any)["Id"])

	filter := url.QueryEscape("InputProductType eq 'S2MSI1C'")
	rec = f.do(http.MethodGet, "/Workflows?$filter="+filter, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeEnvelope(t, rec)["value"], 1)

	filter = url.QueryEscape("InputProductType eq 'S1SAR'")
	rec = f.do(http.MethodGet, "/Workflows?$filter="+filter, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeEnvelope(t, rec)["value"])

	// conjunctions intersect: the mismatching predicate empties the result
	// regardless of position
	filter = url.QueryEscape("InputProductType eq 'S1SAR' and InputProductType eq 'S2MSI1C'")
	rec = f.do(http.MethodGet, "/Workflows?$filter="+filter, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeEnvelope(t, rec)["value"])

	filter = url.QueryEscape("InputProductType eq 'S2MSI1C' and InputProductType eq 'S1SAR'")
	rec = f.do(http.MethodGet, "/Workflows?$filter="+filter, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeEnvelope(t, rec)["value"])

	filter = url.QueryEscape("InputProductType eq 'S2MSI1C' and InputProductType eq 'S2MSI1C'")
	rec = f.do(http.MethodGet, "/Workflows?$filter="+filter, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeEnvelope(t, rec)["value"], 1)

	// only the InputProductType equality filter is supported
	filter = url.QueryEscape("Id eq 'resample'")
	rec = f.do(http.MethodGet, "/Workflows?$filter="+filter, "alice", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestKeyedEntityAccess(t *testing.T) {
	f := newAPIFixture(t)
	info := f.submitAndWait(t, "alice", testProduct)

	rec := f.do(http.MethodGet, fmt.Sprintf("/TransformationOrders('%s')", info.Id), "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got orders.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, info.Id, got.Id)
	assert.Equal(t, orders.StatusCompleted, got.Status)
	require.Len(t, got.OutputProductReference, 1)
	assert.Equal(t, "http://files.example/download/"+info.Id+"/OUT.zip",
		got.OutputProductReference[0].DownloadURI)

	rec = f.do(http.MethodGet, "/TransformationOrders('missing')", "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/Workflows('resample')", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Resampler"`)

	rec = f.do(http.MethodGet, "/Workflows('nope')", "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/Gadgets('x')", "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderLogEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	info := f.submitAndWait(t, "alice", testProduct)

	rec := f.do(http.MethodGet, fmt.Sprintf("/TransformationOrders('%s')/Log", info.Id), "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	value := envelope["value"].([]any)
	require.NotEmpty(t, value)
	assert.Contains(t, value[0].(string), "start processing")

	rec = f.do(http.MethodGet, fmt.Sprintf("/TransformationOrders('%s')/Nope", info.Id), "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRequireManager(t *testing.T) {
	f := newAPIFixture(t)
	info := f.submitAndWait(t, "alice", testProduct)

	rec := f.do(http.MethodGet, "/admin/TransformationOrders", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodPost, "/admin/Evictions", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/admin/TransformationOrders?$count=true", "boss", "managers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, float64(1), envelope["@odata.count"])
	value := envelope["value"].([]any)
	require.Len(t, value, 1)
	assert.Equal(t, info.Id, value[0].(map[string]any)["Id"])

	// nothing has expired, the eviction pass removes nothing
	rec = f.do(http.MethodPost, "/admin/Evictions", "boss", "managers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, float64(0), result["count"])
	assert.Empty(t, result["evicted"])
}
