package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/odoorest/internal/operation"
	"github.com/pitabwire/odoorest/model"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets      = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	operationDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets          = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec
	RateLimitedTotal      *prometheus.CounterVec

	// Operation metrics
	OperationsTotal          *prometheus.CounterVec
	OperationDuration        *prometheus.HistogramVec
	OperationValidationTotal *prometheus.CounterVec
	HookFailuresTotal        *prometheus.CounterVec

	// Backend metrics
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendErrorsTotal         *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odoorest_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odoorest_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odoorest_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odoorest_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odoorest_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}, []string{"path_pattern"}),

		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odoorest_operations_total",
			Help: "Total number of executed operations.",
		}, []string{"kind", "entity", "status", "code"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odoorest_operation_duration_seconds",
			Help:    "Operation execution duration in seconds.",
			Buckets: operationDurationBuckets,
		}, []string{"kind", "entity"}),
		OperationValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odoorest_operation_validation_failures_total",
			Help: "Total number of operations rejected by parameter validation.",
		}, []string{"kind", "entity", "code"}),
		HookFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odoorest_hook_failures_total",
			Help: "Total number of failed after_execution and custom_response hooks.",
		}, []string{"kind", "entity", "hook"}),

		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odoorest_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"backend"}),
		BackendErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odoorest_backend_errors_total",
			Help: "Total number of operations failed by the backend, by error code.",
		}, []string{"kind", "code"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.RateLimitedTotal,
		m.OperationsTotal,
		m.OperationDuration,
		m.OperationValidationTotal,
		m.HookFailuresTotal,
		m.BackendCircuitBreakerState,
		m.BackendErrorsTotal,
	)

	return m
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(pathPattern string) {
	m.RateLimitedTotal.WithLabelValues(pathPattern).Inc()
}

// SetBackendCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetBackendCircuitBreakerState(backend string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(backend).Set(state)
}

// OnOperation records one executed operation. It makes Metrics an
// operation.Observer.
func (m *Metrics) OnOperation(_ context.Context, ev operation.Event) {
	kind := string(ev.Kind)
	code := ev.Code
	if code == "" {
		code = "OK"
	}

	m.OperationsTotal.WithLabelValues(kind, ev.Entity, strconv.Itoa(ev.Status), code).Inc()
	m.OperationDuration.WithLabelValues(kind, ev.Entity).Observe(ev.Duration.Seconds())

	switch ev.Stage {
	case operation.StageValidate:
		m.OperationValidationTotal.WithLabelValues(kind, ev.Entity, code).Inc()
	case operation.StageAfterExecution, operation.StageCustomResponse:
		if ev.Code == model.ErrHook {
			m.HookFailuresTotal.WithLabelValues(kind, ev.Entity, ev.Stage).Inc()
		}
	case operation.StageBackend:
		if ev.Code != "" {
			m.BackendErrorsTotal.WithLabelValues(kind, ev.Code).Inc()
		}
	}
}

var _ operation.Observer = (*Metrics)(nil)

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the Prometheus HTTP handler for the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
