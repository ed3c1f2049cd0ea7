// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package metrics registers the gateway's Prometheus instrumentation:
// API latency and throughput, rate admission decisions, upstream vendor
// call outcomes, circuit breaker state, and telemetry session activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Rate Admission Metrics
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total number of rate admission decisions",
		},
		[]string{"class", "allowed"},
	)

	// Upstream Vendor Metrics
	VendorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendor_requests_total",
			Help: "Total number of upstream Bambu cloud API requests",
		},
		[]string{"method", "status_code"},
	)

	VendorRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vendor_request_duration_seconds",
			Help:    "Upstream Bambu cloud API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	VendorBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vendor_circuit_breaker_open",
			Help: "Whether the upstream circuit breaker is open (1) or closed (0)",
		},
	)

	// Token Vault Metrics
	VaultTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_tokens",
			Help: "Current number of custom tokens in the vault",
		},
	)

	// Telemetry Session Metrics
	TelemetrySessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_sessions_active",
			Help: "Current number of live telemetry sessions",
		},
	)

	TelemetrySessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_sessions_started_total",
			Help: "Total number of telemetry sessions started",
		},
	)

	TelemetrySessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_sessions_expired_total",
			Help: "Total number of telemetry sessions reaped by the sweeper",
		},
	)

	TelemetryMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_messages_received_total",
			Help: "Total number of telemetry messages received from the device feed",
		},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRateDecision records a rate admission decision for a class
func RecordRateDecision(class string, allowed bool) {
	v := "false"
	if allowed {
		v = "true"
	}
	RateLimitDecisions.WithLabelValues(class, v).Inc()
}

// RecordVendorRequest records an upstream vendor call
func RecordVendorRequest(method, statusCode string, duration time.Duration) {
	VendorRequestsTotal.WithLabelValues(method, statusCode).Inc()
	VendorRequestDuration.Observe(duration.Seconds())
}

// SetBreakerOpen reflects circuit breaker state changes
func SetBreakerOpen(open bool) {
	if open {
		VendorBreakerState.Set(1)
	} else {
		VendorBreakerState.Set(0)
	}
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
