// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the protocol
// assistant.
//
// # Description
//
// Metrics cover the three things that fail in production: upstream calls
// (by call and status), chat saga outcomes (by the step that ended them),
// and file uploads. They are registered on an explicit registry so tests
// and multiple service instances never collide on the global one.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// A nil *Metrics is valid and records nothing.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "labassistant"

// Upstream call labels.
const (
	CallCreateChatSession = "create_chat_session"
	CallInputPrompt       = "input_prompt"
	CallSendMessage       = "send_message"
	CallUploadFile        = "upload_file"
)

// Saga results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// StatusTransportError labels upstream calls that never got a response.
const StatusTransportError = "transport_error"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// UpstreamRequestsTotal counts upstream calls.
	// Labels: call, status (HTTP code or transport_error)
	UpstreamRequestsTotal *prometheus.CounterVec

	// UpstreamRequestDuration measures upstream call latency up to response
	// headers; streamed bodies are read afterwards.
	// Labels: call
	UpstreamRequestDuration *prometheus.HistogramVec

	// ChatSagaTotal counts finished chat requests.
	// Labels: result (success, failure), step (the step that ended the saga)
	ChatSagaTotal *prometheus.CounterVec

	// UploadFilesTotal counts files by upload outcome.
	// Labels: result (success, rejected, failed)
	UploadFilesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_requests_total",
				Help:      "Total upstream chat backend calls by call and status",
			},
			[]string{"call", "status"},
		),

		UpstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream chat backend call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"call"},
		),

		ChatSagaTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "chat_saga_total",
				Help:      "Total chat requests by result and final step",
			},
			[]string{"result", "step"},
		),

		UploadFilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upload_files_total",
				Help:      "Total uploaded files by result",
			},
			[]string{"result"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordUpstream records one upstream call. status 0 means the call failed
// before a response arrived.
func (m *Metrics) RecordUpstream(call string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := StatusTransportError
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequestsTotal.WithLabelValues(call, label).Inc()
	m.UpstreamRequestDuration.WithLabelValues(call).Observe(elapsed.Seconds())
}

// RecordSaga records a finished chat request.
func (m *Metrics) RecordSaga(result, step string) {
	if m == nil {
		return
	}
	m.ChatSagaTotal.WithLabelValues(result, step).Inc()
}

// RecordUploadFiles adds n files with the given result.
func (m *Metrics) RecordUploadFiles(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.UploadFilesTotal.WithLabelValues(result).Add(float64(n))
}
