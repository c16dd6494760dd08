// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring retrieval and
// answering operations. Metrics include:
//   - Request counters (by endpoint, status)
//   - Retrieval latency histograms (by strategy)
//   - Degradation counters (arm failures, re-rank skips, parse fallbacks)
//   - Decline counters (by gate reason)
//   - Citation rewrite counters
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "lexsearch"

// Subsystem for retrieval metrics
const retrievalSubsystem = "retrieval"

// RetrievalMetrics holds all Prometheus metrics for retrieval operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring retrieval
// performance and degradation. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type RetrievalMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (ask, ask_stream, citations), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// RetrievalDurationSeconds measures end-to-end retrieval latency.
	// Labels: strategy (tree, hybrid)
	RetrievalDurationSeconds *prometheus.HistogramVec

	// FallbacksTotal counts degraded-path activations.
	// Labels: kind (keyword_arm, semantic_fallback, rerank_skip,
	// tree_parse_degrade, citation_fallback)
	FallbacksTotal *prometheus.CounterVec

	// DeclinesTotal counts refused answers by gate reason.
	// Labels: reason (off_topic, no_sources, insufficient_confidence)
	DeclinesTotal *prometheus.CounterVec

	// CitationRewritesTotal counts citation processing outcomes.
	// Labels: outcome (rewritten, fallback)
	CitationRewritesTotal *prometheus.CounterVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code (validation, embedding_error,
	// retrieval_error, llm_error, timeout, internal, client_disconnect)
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of RetrievalMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RetrievalMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *RetrievalMetrics {
	DefaultMetrics = &RetrievalMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "requests_total",
				Help:      "Total number of requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RetrievalDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end retrieval latency by strategy",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"strategy"},
		),

		FallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "fallbacks_total",
				Help:      "Total degraded-path activations by kind",
			},
			[]string{"kind"},
		),

		DeclinesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "declines_total",
				Help:      "Total refused answers by gate reason",
			},
			[]string{"reason"},
		),

		CitationRewritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "citation_rewrites_total",
				Help:      "Total citation processing outcomes",
			},
			[]string{"outcome"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeEmbedding indicates embedding backend failure.
	ErrorCodeEmbedding ErrorCode = "embedding_error"

	// ErrorCodeRetrieval indicates a store failure after all fallbacks.
	ErrorCodeRetrieval ErrorCode = "retrieval_error"

	// ErrorCodeLLMError indicates LLM API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents an API endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointAsk is the synchronous ask endpoint.
	EndpointAsk Endpoint = "ask"

	// EndpointAskStream is the streaming ask endpoint.
	EndpointAskStream Endpoint = "ask_stream"

	// EndpointCitations is the citation processing endpoint.
	EndpointCitations Endpoint = "citations"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
func (m *RetrievalMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a categorized error.
func (m *RetrievalMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordRetrievalDuration records retrieval latency for one strategy.
func (m *RetrievalMetrics) RecordRetrievalDuration(strategy string, seconds float64) {
	m.RetrievalDurationSeconds.WithLabelValues(strategy).Observe(seconds)
}

// RecordFallback records a degraded-path activation.
func (m *RetrievalMetrics) RecordFallback(kind string) {
	m.FallbacksTotal.WithLabelValues(kind).Inc()
}

// RecordDecline records a refused answer.
func (m *RetrievalMetrics) RecordDecline(reason string) {
	m.DeclinesTotal.WithLabelValues(reason).Inc()
}

// RecordCitationRewrite records a citation processing outcome.
func (m *RetrievalMetrics) RecordCitationRewrite(fallback bool) {
	outcome := "rewritten"
	if fallback {
		outcome = "fallback"
	}
	m.CitationRewritesTotal.WithLabelValues(outcome).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *RetrievalMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *RetrievalMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}
