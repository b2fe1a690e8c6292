package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every endpoint.
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})
)

// Authentication-domain metrics.
var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_login_attempts_total",
			Help: "Login attempts by outcome (success, invalid_credentials, locked_out, error).",
		},
		[]string{"outcome"},
	)

	LockoutTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_lockout_transitions_total",
		Help: "Accounts transitioned into the locked state.",
	})

	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_tokens_issued_total",
			Help: "Tokens issued by kind (access, refresh).",
		},
		[]string{"kind"},
	)

	RefreshRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_refresh_rotations_total",
		Help: "Successful refresh-token rotations.",
	})

	SessionInvalidateFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_session_invalidate_failures_total",
		Help: "Best-effort prior-session invalidations that failed and were swallowed.",
	})

	LockoutStoreFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_lockout_store_failures_total",
		Help: "Lockout state writes that failed and were swallowed.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		LoginAttempts, LockoutTransitions, TokensIssued, RefreshRotations,
		SessionInvalidateFailures, LockoutStoreFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the readiness state for scraping.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
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
