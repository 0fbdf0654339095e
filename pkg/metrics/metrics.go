// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics collects Prometheus metrics for the tool-server
// fleet, the capability catalog, the invoker and the reasoning
// pipeline, and exposes a Handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram this process exports.
// A nil *Metrics is safe to call methods on: every recorder method is
// a no-op when m is nil, so call sites never need a feature check.
type Metrics struct {
	registry *prometheus.Registry

	fleetConnections    *prometheus.GaugeVec
	fleetHealthFailures *prometheus.CounterVec
	fleetReconnects     *prometheus.CounterVec

	discoveryDuration *prometheus.HistogramVec
	catalogSize       *prometheus.GaugeVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolCacheHits    *prometheus.CounterVec

	reasoningPhaseDuration *prometheus.HistogramVec
	reasoningReplans       prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	promptTokens *prometheus.HistogramVec
}

// New builds a Metrics registered against a fresh prometheus.Registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fleetConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toolmesh", Subsystem: "fleet", Name: "connections",
		Help: "Current connection status per tool server (1=connected, 0=not).",
	}, []string{"server"})

	m.fleetHealthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolmesh", Subsystem: "fleet", Name: "health_failures_total",
		Help: "Total consecutive-health-check failures observed per server.",
	}, []string{"server"})

	m.fleetReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolmesh", Subsystem: "fleet", Name: "reconnects_total",
		Help: "Total reconnect attempts per server.",
	}, []string{"server"})

	m.discoveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "toolmesh", Subsystem: "catalog", Name: "discovery_duration_seconds",
		Help:    "Duration of a capability discovery pass per server.",
		Buckets: prometheus.DefBuckets,
	}, []string{"server"})

	m.catalogSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toolmesh", Subsystem: "catalog", Name: "entries",
		Help: "Current number of catalog entries by kind.",
	}, []string{"kind"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolmesh", Subsystem: "invoker", Name: "tool_calls_total",
		Help: "Total tool invocations by tool, server and outcome.",
	}, []string{"tool", "server", "outcome"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "toolmesh", Subsystem: "invoker", Name: "tool_call_duration_seconds",
		Help:    "Tool invocation duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"tool", "server"})

	m.toolCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolmesh", Subsystem: "invoker", Name: "cache_hits_total",
		Help: "Total tool-result cache hits by tool.",
	}, []string{"tool"})

	m.reasoningPhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "toolmesh", Subsystem: "reasoning", Name: "phase_duration_seconds",
		Help:    "Duration of each reasoning pipeline phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	m.reasoningReplans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "toolmesh", Subsystem: "reasoning", Name: "replans_total",
		Help: "Total times the sufficiency phase triggered a replan cycle.",
	})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolmesh", Subsystem: "http", Name: "requests_total",
		Help: "Total HTTP requests by route and status class.",
	}, []string{"route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "toolmesh", Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	m.promptTokens = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "toolmesh", Subsystem: "upstream", Name: "prompt_tokens_estimate",
		Help:    "Estimated prompt token count of the augmented request sent upstream.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	}, []string{"model"})

	m.registry.MustRegister(
		m.fleetConnections, m.fleetHealthFailures, m.fleetReconnects,
		m.discoveryDuration, m.catalogSize,
		m.toolCalls, m.toolCallDuration, m.toolCacheHits,
		m.reasoningPhaseDuration, m.reasoningReplans,
		m.httpRequests, m.httpDuration,
		m.promptTokens,
	)

	return m
}

// Handler exposes the registry for Prometheus scraping at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetFleetConnected(server string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	m.fleetConnections.WithLabelValues(server).Set(v)
}

func (m *Metrics) RecordHealthFailure(server string) {
	if m == nil {
		return
	}
	m.fleetHealthFailures.WithLabelValues(server).Inc()
}

func (m *Metrics) RecordReconnect(server string) {
	if m == nil {
		return
	}
	m.fleetReconnects.WithLabelValues(server).Inc()
}

func (m *Metrics) RecordDiscovery(server string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.discoveryDuration.WithLabelValues(server).Observe(elapsed.Seconds())
}

func (m *Metrics) SetCatalogSize(kind string, n int) {
	if m == nil {
		return
	}
	m.catalogSize.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) RecordToolCall(tool, server string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, server, outcome).Inc()
	m.toolCallDuration.WithLabelValues(tool, server).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordCacheHit(tool string) {
	if m == nil {
		return
	}
	m.toolCacheHits.WithLabelValues(tool).Inc()
}

func (m *Metrics) RecordPhase(phase string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reasoningPhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordReplan() {
	if m == nil {
		return
	}
	m.reasoningReplans.Inc()
}

func (m *Metrics) RecordHTTPRequest(route string, statusClass string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordPromptTokens(model string, count int) {
	if m == nil {
		return
	}
	m.promptTokens.WithLabelValues(model).Observe(float64(count))
}
