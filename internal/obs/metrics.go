package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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
)

// Domain metrics
var (
	screeningOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_screening_outcomes_total",
			Help: "Document screening results by outcome.",
		},
		[]string{"outcome"},
	)

	auditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_audit_events_total",
			Help: "Audit events by delivery result.",
		},
		[]string{"result"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"scope"},
	)
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			screeningOutcomes, auditEvents, rateLimited,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScreening counts one screened file. outcome is clean, dlp or rejected.
func ObserveScreening(outcome string) {
	screeningOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveAudit counts one audit delivery result: written, retried or dropped.
func ObserveAudit(result string) {
	auditEvents.WithLabelValues(result).Inc()
}

// ObserveRateLimited counts one rejected request for the limiter scope.
func ObserveRateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}

var knownPaths = map[string]struct{}{
	"/healthz":                      {},
	"/readyz":                       {},
	"/metrics":                      {},
	"/api/intake":                   {},
	"/api/intake/latest":            {},
	"/api/intake/status":            {},
	"/api/uploads":                  {},
	"/api/uploads/record":           {},
	"/api/uploads/records":          {},
	"/api/preparer/uploads":         {},
	"/api/preparer/uploads/hide":    {},
	"/api/preparer/overview":        {},
	"/api/preparer/profile":         {},
	"/api/preparer/validate-client": {},
	"/api/profile":                  {},
	"/api/contact":                  {},
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	if path == "/" {
		return path
	}
	return "other"
}

// Instrument wraps next with RPS, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
