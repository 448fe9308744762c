package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	linkValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelink_validations_total",
			Help: "Secure link validation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	linksIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securelink_issued_total",
			Help: "Secure links issued by access type.",
		},
		[]string{"access_type"},
	)

	linksRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "securelink_revoked_total",
			Help: "Secure links revoked by an administrator.",
		},
	)
)

// Init registers all service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		linkValidationsTotal, linksIssuedTotal, linksRevokedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveValidation counts one validation attempt. Outcome is either
// "granted" or the denial reason.
func ObserveValidation(outcome string) {
	linkValidationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveIssued counts one issued link.
func ObserveIssued(accessType string) {
	linksIssuedTotal.WithLabelValues(accessType).Inc()
}

// ObserveRevoked counts one administrative revocation.
func ObserveRevoked() {
	linksRevokedTotal.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := metricPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// metricPath collapses the token segment of the public validation path. The
// raw token must never appear in a metric label, and the label cardinality
// must stay bounded.
func metricPath(path string) string {
	if strings.HasPrefix(path, "/q/") {
		return "/q/{token}"
	}
	if strings.HasPrefix(path, "/v1/links/") && strings.HasSuffix(path, "/revoke") {
		return "/v1/links/{id}/revoke"
	}
	return path
}

// statusWriter captures the response code for the instrumentation wrapper.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
