// Package observability holds the Prometheus instrumentation: generic HTTP
// request metrics plus counters for the ingestion pipeline stages.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests per route and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	// RequestDuration tracks request duration per route.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finledger_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finledger_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// RowsExtracted counts candidate transactions produced per structure kind.
	RowsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finledger_ingest_rows_extracted_total",
			Help: "Candidate transactions extracted from uploaded statements",
		},
		[]string{"kind"},
	)

	// ClassificationTier counts which classification tier resolved each row.
	ClassificationTier = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finledger_classification_tier_total",
			Help: "Classification outcomes by tier (rule, remote, static, none)",
		},
		[]string{"tier"},
	)

	// CommitsTotal counts committed review sessions.
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finledger_commits_total",
			Help: "Review buffer commits by outcome",
		},
		[]string{"outcome"},
	)

	// IngestDuration tracks full analyze-pipeline latency.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finledger_ingest_duration_seconds",
			Help:    "Statement analysis duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Metrics is HTTP middleware collecting the request metrics above. Routes are
// labeled by mux pattern when available so cardinality stays bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ActiveRequests.Inc()
		defer ActiveRequests.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
