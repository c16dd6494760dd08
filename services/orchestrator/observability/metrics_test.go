// Copyright (C) 2025 CounselOps (engineering@counselops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// newTestMetrics creates a RetrievalMetrics instance with a custom registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) *RetrievalMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := &RetrievalMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "requests_total",
				Help:      "Total number of requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RetrievalDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end retrieval latency by strategy",
				Buckets:   []float64{0.1, 0.5, 1.0, 5.0},
			},
			[]string{"strategy"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "fallbacks_total",
				Help:      "Total degraded-path activations by kind",
			},
			[]string{"kind"},
		),
		DeclinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "declines_total",
				Help:      "Total refused answers by gate reason",
			},
			[]string{"reason"},
		),
		CitationRewritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "citation_rewrites_total",
				Help:      "Total citation processing outcomes",
			},
			[]string{"outcome"},
		),
		ActiveStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: retrievalSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RetrievalDurationSeconds,
		m.FallbacksTotal,
		m.DeclinesTotal,
		m.CitationRewritesTotal,
		m.ActiveStreams,
		m.ErrorsTotal,
	)
	return m
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointAsk, true)
	m.RecordRequest(EndpointAsk, true)
	m.RecordRequest(EndpointAsk, false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ask", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ask", "error")))
}

func TestRecordFallback(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordFallback("keyword_arm")
	m.RecordFallback("semantic_fallback")
	m.RecordFallback("semantic_fallback")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("keyword_arm")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("semantic_fallback")))
}

func TestRecordDecline(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDecline("no_sources")
	m.RecordDecline("off_topic")
	m.RecordDecline("off_topic")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeclinesTotal.WithLabelValues("no_sources")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DeclinesTotal.WithLabelValues("off_topic")))
}

func TestRecordCitationRewrite(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCitationRewrite(false)
	m.RecordCitationRewrite(true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CitationRewritesTotal.WithLabelValues("rewritten")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CitationRewritesTotal.WithLabelValues("fallback")))
}

func TestActiveStreamsGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted(EndpointAskStream)
	m.StreamStarted(EndpointAskStream)
	m.StreamEnded(EndpointAskStream)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveStreams.WithLabelValues("ask_stream")))
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError(EndpointAsk, ErrorCodeRetrieval)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("ask", "retrieval_error")))
}
