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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/transformd/pkg/errors"
)

func TestFileCacheReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o600))

	c := NewFileCache(path, func(raw []byte) (string, error) {
		return string(raw), nil
	})

	v, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, "one", v)

	require.NoError(t, os.WriteFile(path, []byte("two"), 0o600))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	c.Invalidate()

	v, err = c.Get()
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestFileCacheMissingFile(t *testing.T) {
	c := NewFileCache(filepath.Join(t.TempDir(), "nope.yaml"), func(raw []byte) (string, error) {
		return string(raw), nil
	})
	_, err := c.Get()
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles([]byte(`
default_role:
  quota: 2
poweruser:
  quota: 10
  profile: manager
guest:
  quota: 1
  profile: unauthorized
`))
	require.NoError(t, err)

	assert.Equal(t, 2, roles.Default().Quota)
	assert.Equal(t, ProfileUser, roles.Default().Profile)
	assert.Equal(t, ProfileManager, roles["poweruser"].Profile)
	assert.Equal(t, ProfileUnauthorized, roles["guest"].Profile)
}

func TestParseRolesMissingDefaultIsFatal(t *testing.T) {
	_, err := ParseRoles([]byte("poweruser:\n  quota: 10\n"))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
	assert.Contains(t, err.Error(), "default_role")
}

func TestParseRolesInvalidProfile(t *testing.T) {
	_, err := ParseRoles([]byte(`
default_role:
  quota: 2
weird:
  quota: 1
  profile: superuser
`))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestParseRolesNonPositiveDefaultQuota(t *testing.T) {
	_, err := ParseRoles([]byte("default_role:\n  quota: 0\n"))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestParseServiceDefaults(t *testing.T) {
	svc, err := ParseService([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 14400, svc.KeepingPeriod)
	assert.Equal(t, 10, svc.MonitoringPollingTimeS)
	assert.True(t, svc.TraceabilityEnabled())
	assert.True(t, svc.QuotaCheckEnabled())
	assert.True(t, svc.MonitoringEnabled())
}

func TestParseServiceOverrides(t *testing.T) {
	svc, err := ParseService([]byte(`
keeping_period: 60
excluded_workflows: [wf_a]
untraced_workflows: [wf_b]
enable_traceability: false
enable_quota_check: false
`))
	require.NoError(t, err)

	assert.Equal(t, 60, svc.KeepingPeriod)
	assert.True(t, svc.WorkflowExcluded("wf_a"))
	assert.False(t, svc.WorkflowExcluded("wf_b"))
	assert.True(t, svc.WorkflowUntraced("wf_b"))
	assert.False(t, svc.TraceabilityEnabled())
	assert.False(t, svc.QuotaCheckEnabled())
	assert.True(t, svc.MonitoringEnabled())
}

func TestParseServiceRejectsNonPositiveKeepingPeriod(t *testing.T) {
	_, err := ParseService([]byte("keeping_period: -5"))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WORKING_DIR", "/srv/work")
	t.Setenv("OUTPUT_DIR", "/srv/out")
	t.Setenv("OUTPUT_OWNER_ID", "1042")
	t.Setenv("TF_DEBUG", "1")
	t.Setenv("MAX_PARALLEL", "8")

	s := FromEnv()
	assert.Equal(t, "/srv/work", s.WorkingDir)
	assert.Equal(t, "/srv/out", s.OutputDir)
	assert.Equal(t, 1042, s.OutputOwnerID)
	assert.Equal(t, -1, s.OutputGroupOwnerID)
	assert.Equal(t, 8, s.MaxParallel)
	assert.True(t, s.Debug)
}
