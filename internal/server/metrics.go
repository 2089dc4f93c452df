// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server. A
// single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// askRequestsTotal counts completed POST /ask requests, partitioned by
	// outcome: "ok" or "error".
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records the wall-clock duration of each POST /ask
	// request, including retrieval and the LLM call.
	askDurationSeconds *prometheus.HistogramVec

	// ingestRequestsTotal counts completed ingest operations (one per
	// document), partitioned by status: "success", "skipped", "failed", "error".
	ingestRequestsTotal *prometheus.CounterVec

	// ingestDurationSeconds records the wall-clock duration of each
	// per-document ingest operation.
	ingestDurationSeconds prometheus.Histogram

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragserver",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of POST /ask requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragserver",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of POST /ask requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),

		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragserver",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of documents ingested, partitioned by status.",
		}, []string{"status"}),

		ingestDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragserver",
			Subsystem: "ingest",
			Name:      "document_duration_seconds",
			Help:      "Wall-clock duration of a single document's ingest pipeline.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragserver",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragserver",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
