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

package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes queue lifecycle counters on the Prometheus registry. It
// implements orders.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	submitted    prometheus.Counter
	deduplicated prometheus.Counter
	completed    prometheus.Counter
	failed       prometheus.Counter
	evicted      prometheus.Counter
	activeOrders prometheus.Gauge
}

// NewMetrics creates the metric set on a fresh registry, together with the
// standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transformd_orders_submitted_total",
			Help: "Total number of new transformation orders admitted.",
		}),
		deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transformd_orders_deduplicated_total",
			Help: "Total number of submissions resolved to an existing order.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transformd_orders_completed_total",
			Help: "Total number of transformation runs that completed.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transformd_orders_failed_total",
			Help: "Total number of transformation runs that failed.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transformd_orders_evicted_total",
			Help: "Total number of orders evicted after their keeping period.",
		}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transformd_active_orders",
			Help: "Number of orders currently held in the queue.",
		}),
	}
	registry.MustRegister(m.submitted, m.deduplicated, m.completed, m.failed, m.evicted, m.activeOrders)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OrderSubmitted implements orders.Metrics.
func (m *Metrics) OrderSubmitted() { m.submitted.Inc() }

// OrderDeduplicated implements orders.Metrics.
func (m *Metrics) OrderDeduplicated() { m.deduplicated.Inc() }

// OrderCompleted implements orders.Metrics.
func (m *Metrics) OrderCompleted() { m.completed.Inc() }

// OrderFailed implements orders.Metrics.
func (m *Metrics) OrderFailed() { m.failed.Inc() }

// OrdersEvicted implements orders.Metrics.
func (m *Metrics) OrdersEvicted(count int) { m.evicted.Add(float64(count)) }

// SetActiveOrders implements orders.Metrics.
func (m *Metrics) SetActiveOrders(count int) { m.activeOrders.Set(float64(count)) }
