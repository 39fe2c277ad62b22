// Package metrics holds the Prometheus collectors for the gateway.
//
// Collectors are package-level so any layer can record without plumbing a
// registry through constructors. They are only exposed once Init has
// registered them with the default registry.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ct600_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ct600_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ct600_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	authorityRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ct600_authority_requests_total",
			Help: "Calls made to HMRC by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	authorityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ct600_authority_request_duration_seconds",
			Help:    "HMRC call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	tokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ct600_token_exchanges_total",
			Help: "OAuth2 authorization code exchanges by outcome.",
		},
		[]string{"outcome"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ct600_submissions_total",
			Help: "Submit attempts by outcome.",
		},
		[]string{"outcome"},
	)

	cellDefaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ct600_store_cell_defaults_total",
			Help: "Record store cells that failed to parse and were defaulted.",
		},
		[]string{"column"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authorityRequests, authorityDuration,
			tokenExchanges, submissions, cellDefaults,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthority records one HMRC call.
func ObserveAuthority(operation, outcome string, d time.Duration) {
	authorityRequests.WithLabelValues(operation, outcome).Inc()
	authorityDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// TokenExchanged counts one code exchange.
func TokenExchanged(outcome string) {
	tokenExchanges.WithLabelValues(outcome).Inc()
}

// SubmissionAttempted counts one Submit call.
func SubmissionAttempted(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// CellDefaulted counts one defaulted store cell.
func CellDefaulted(column string) {
	cellDefaults.WithLabelValues(column).Inc()
}

// Instrument measures request count, latency and in-flight requests. Routes
// are labelled by chi pattern so path parameters do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routePattern(r)
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
