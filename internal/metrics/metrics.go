// Package metrics holds the Prometheus collectors for ingestion and the
// HTTP surface. Label sets are small and fixed.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NoticesFetched counts notices returned per source adapter.
	NoticesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidradar_notices_fetched_total",
			Help: "Notices returned by source adapters.",
		},
		[]string{"source"},
	)

	// SourceErrors counts adapter failures.
	SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidradar_source_errors_total",
			Help: "Source adapter failures.",
		},
		[]string{"source"},
	)

	// NoticesFiltered counts notices removed or tagged by each filter stage.
	NoticesFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidradar_notices_filtered_total",
			Help: "Notices dropped (category, keyword) or tagged (hard_exclude) by the filter chain.",
		},
		[]string{"stage"},
	)

	// Judgments counts external relevance calls by outcome (ok, error).
	Judgments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidradar_judgments_total",
			Help: "External relevance judgments by outcome.",
		},
		[]string{"outcome"},
	)

	// Upserts counts store writes by result (created, updated, error).
	Upserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidradar_upserts_total",
			Help: "Opportunity upserts by result.",
		},
		[]string{"result"},
	)

	// RunDuration records wall time of full ingestion runs.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bidradar_run_duration_seconds",
			Help:    "Duration of ingestion runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidradar_http_requests_total",
			Help: "HTTP requests served.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidradar_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		NoticesFetched, SourceErrors, NoticesFiltered,
		Judgments, Upserts, RunDuration,
		httpReqs, httpLat,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps h, labelling requests with the fixed route pattern rather
// than the raw URL.
func Instrument(pattern string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		httpReqs.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		httpLat.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	}
}
