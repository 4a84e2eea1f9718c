// Copyright 2025 LoadGate
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

package controlplane

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgate_controlplane_requests_total",
			Help: "Total number of requests processed by the admission pipeline",
		},
		[]string{"outcome"},
	)
	promAdmissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loadgate_controlplane_admission_duration_milliseconds",
			Help:    "Admission pipeline duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
		[]string{"route"},
	)
	promBlockedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loadgate_controlplane_blocked_requests_total",
			Help: "Total number of requests denied by an active block",
		},
	)
	promRateLimitedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgate_controlplane_rate_limited_requests_total",
			Help: "Total number of requests denied by a route-class ceiling",
		},
		[]string{"class"},
	)
	promAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgate_controlplane_auth_failures_total",
			Help: "Total number of authentication failures by reason",
		},
		[]string{"reason"},
	)
)

// metricsOnce ensures collectors are registered only once
var metricsOnce sync.Once

func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(promRequestsTotal)
		prometheus.MustRegister(promAdmissionDuration)
		prometheus.MustRegister(promBlockedRequests)
		prometheus.MustRegister(promRateLimitedRequests)
		prometheus.MustRegister(promAuthFailures)
	})
}

func init() {
	registerMetrics()
}
