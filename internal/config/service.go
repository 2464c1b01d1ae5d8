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

// Service holds the reloadable service configuration (ESA_TF_CONFIG_FILE).
type Service struct {
	// KeepingPeriod is the number of minutes after completion for which an
	// order remains queryable before eviction.
	KeepingPeriod int `yaml:"keeping_period"`

	// ExcludedWorkflows lists workflow ids rejected at admission.
	ExcludedWorkflows []string `yaml:"excluded_workflows"`

	// UntracedWorkflows lists workflow ids for which the provenance trace
	// is skipped even when traceability is globally enabled.
	UntracedWorkflows []string `yaml:"untraced_workflows"`

	EnableTraceability *bool `yaml:"enable_traceability"`
	EnableQuotaCheck   *bool `yaml:"enable_quota_check"`
	EnableMonitoring   *bool `yaml:"enable_monitoring"`

	// MonitoringPollingTimeS is the resource monitor sampling interval in
	// seconds.
	MonitoringPollingTimeS int `yaml:"monitoring_polling_time_s"`
}

// TraceabilityEnabled reports whether traceability is globally enabled
// (default true).
func (s *Service) TraceabilityEnabled() bool {
	return s.EnableTraceability == nil || *s.EnableTraceability
}

// QuotaCheckEnabled reports whether quota enforcement is enabled
// (default true).
func (s *Service) QuotaCheckEnabled() bool {
	return s.EnableQuotaCheck == nil || *s.EnableQuotaCheck
}

// MonitoringEnabled reports whether resource monitoring is enabled
// (default true).
func (s *Service) MonitoringEnabled() bool {
	return s.EnableMonitoring == nil || *s.EnableMonitoring
}

// WorkflowExcluded reports whether workflowID is in the excluded set.
func (s *Service) WorkflowExcluded(workflowID string) bool {
	for _, id := range s.ExcludedWorkflows {
		if id == workflowID {
			return true
		}
	}
	return false
}

// WorkflowUntraced reports whether tracing is disabled for workflowID.
func (s *Service) WorkflowUntraced(workflowID string) bool {
	for _, id := range s.UntracedWorkflows {
		if id == workflowID {
			return true
		}
	}
	return false
}

// ParseService parses and defaults a service configuration document.
func ParseService(raw []byte) (*Service, error) {
	svc := &Service{
		KeepingPeriod:          14400,
		MonitoringPollingTimeS: 10,
	}
	if err := yaml.Unmarshal(raw, svc); err != nil {
		return nil, &errors.ConfigError{
			Reason: "invalid service configuration",
			Cause:  err,
		}
	}
	if svc.KeepingPeriod <= 0 {
		return nil, &errors.ConfigError{
			Key:    "keeping_period",
			Reason: "must be a positive number of minutes",
		}
	}
	if svc.MonitoringPollingTimeS <= 0 {
		svc.MonitoringPollingTimeS = 10
	}
	return svc, nil
}

// NewServiceCache returns a reloading cache over the service config file.
func NewServiceCache(path string) *FileCache[*Service] {
	return NewFileCache(path, ParseService)
}
