package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

// Health and readiness statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is the readiness body. Status is ready, degraded
// (an optional dependency failed) or not_ready (the backend failed).
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Optional  bool   `json:"optional,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// Backend gates readiness; a nil Backend reports not ready.
	Backend HealthChecker

	// RateLimiter is optional. Requests are let through when it fails, so
	// a failure only degrades readiness.
	RateLimiter HealthChecker
}

type namedCheck struct {
	name     string
	checker  HealthChecker
	optional bool
}

func (c ReadinessChecks) list() []namedCheck {
	backend := c.Backend
	if backend == nil {
		backend = HealthCheckFunc(func(context.Context) error { return errNoBackend })
	}
	out := []namedCheck{{name: "backend", checker: backend}}
	if c.RateLimiter != nil {
		out = append(out, namedCheck{name: "rate_limiter", checker: c.RateLimiter, optional: true})
	}
	return out
}

type checkError string

func (e checkError) Error() string { return string(e) }

const errNoBackend = checkError("no backend configured")

const checkTimeout = 2 * time.Second

// HandleHealth returns the liveness handler. It never touches dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{
			Status:        StatusOK,
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

// HandleReady returns the readiness handler. Checks run concurrently, each
// bounded by its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := Readiness(r.Context(), checks)
		code := http.StatusOK
		if resp.Status == StatusNotReady {
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, resp)
	}
}

// Readiness runs every check and folds the results into one status.
func Readiness(ctx context.Context, checks ReadinessChecks) ReadinessResponse {
	list := checks.list()

	type outcome struct {
		name   string
		result CheckResult
	}
	ch := make(chan outcome, len(list))
	for _, c := range list {
		go func(c namedCheck) {
			res := runCheck(ctx, c.checker)
			res.Optional = c.optional
			ch <- outcome{name: c.name, result: res}
		}(c)
	}

	resp := ReadinessResponse{Status: StatusReady, Checks: make(map[string]CheckResult, len(list))}
	for range list {
		o := <-ch
		resp.Checks[o.name] = o.result
		if o.result.Status == StatusOK {
			continue
		}
		if !o.result.Optional {
			resp.Status = StatusNotReady
		} else if resp.Status == StatusReady {
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: StatusOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
	}
	return res
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
