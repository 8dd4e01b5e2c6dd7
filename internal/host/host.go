// Package host holds what the chi and gin adapters share: the dependencies
// they mount, net/http middleware, and the response writers that turn a
// pipeline response into JSON.
package host

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/odoorest/internal/config"
	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/internal/ratelimit"
	"github.com/pitabwire/odoorest/internal/resource"
)

// Standard paths served next to the resources.
const (
	HealthPath  = "/healthz"
	ReadyPath   = "/readyz"
	OpenAPIPath = "/openapi.json"
)

// Dependencies holds everything a host adapter mounts.
type Dependencies struct {
	Config *config.Config
	Routes []resource.Route
	Logger *zap.Logger

	// Metrics is optional; nil disables request metrics and /metrics.
	Metrics *observability.Metrics
	// MetricsHandler serves the metrics path. Defaults to the default registry.
	MetricsHandler http.Handler
	// Limiter is optional; nil disables rate limiting.
	Limiter ratelimit.Limiter
	// OpenAPI is optional; nil disables /openapi.json.
	OpenAPI   http.Handler
	Readiness observability.ReadinessChecks
}

// Log returns the configured logger or a no-op one.
func (d Dependencies) Log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// MetricsPath returns the path /metrics is served on, or "" when disabled.
func (d Dependencies) MetricsPath() string {
	if d.Metrics == nil || !d.Config.Observability.Metrics.Enabled {
		return ""
	}
	if p := d.Config.Observability.Metrics.Path; p != "" {
		return p
	}
	return "/metrics"
}

// PromHandler returns the handler for the metrics path.
func (d Dependencies) PromHandler() http.Handler {
	if d.MetricsHandler != nil {
		return d.MetricsHandler
	}
	return observability.Handler()
}
