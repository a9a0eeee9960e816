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

// HTTP metrics.
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

// Domain metrics.
var (
	AuthRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodia_auth_rejections_total",
			Help: "Requests turned away by the authorization gate.",
		},
		[]string{"reason"},
	)

	AuditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodia_audit_failures_total",
		Help: "Audit records that could not be persisted.",
	})

	AuditSinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodia_audit_sink_failures_total",
			Help: "Audit records that a secondary sink failed to accept.",
		},
		[]string{"sink"},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodia_transitions_total",
			Help: "Lifecycle transitions by kind, action and outcome.",
		},
		[]string{"kind", "action", "outcome"},
	)

	LoginThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodia_login_throttled_total",
		Help: "Login attempts refused by the attempt limiter.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AuthRejections, AuditFailures, AuditSinkFailures, Transitions, LoginThrottled,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per canonical route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath folds identifiers out of a request path so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) >= 4 && parts[0] == "v1" && parts[1] == "resources" {
		switch len(parts) {
		case 4:
			return "/v1/resources/:kind/:id"
		case 5:
			return "/v1/resources/:kind/:id/:action"
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
