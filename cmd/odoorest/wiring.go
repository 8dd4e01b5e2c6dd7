package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pitabwire/odoorest/internal/config"
	"github.com/pitabwire/odoorest/internal/gateway/jsonrpc"
	"github.com/pitabwire/odoorest/internal/gateway/memory"
	"github.com/pitabwire/odoorest/internal/host"
	"github.com/pitabwire/odoorest/internal/host/chihost"
	"github.com/pitabwire/odoorest/internal/host/ginhost"
	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/internal/openapi"
	"github.com/pitabwire/odoorest/internal/ratelimit"
	"github.com/pitabwire/odoorest/internal/resource"
	"github.com/pitabwire/odoorest/model"
)

// backend is a gateway the readiness endpoint can check.
type backend interface {
	model.Gateway
	observability.HealthChecker
}

// buildGateway creates the gateway selected by cfg.Driver. trusted lists the
// operator-configured servers, besides cfg.URL, a call may be routed to.
func buildGateway(cfg config.BackendConfig, trusted []string, metrics *observability.Metrics, logger *zap.Logger) (backend, error) {
	switch cfg.Driver {
	case "memory", "":
		var opts []memory.Option
		if cfg.Database != "" {
			opts = append(opts, memory.WithDatabase(cfg.Database))
		}
		for _, u := range cfg.Memory.Users {
			opts = append(opts, memory.WithUser(u.Login, u.Password))
		}
		for entity, records := range cfg.Memory.Records {
			rows := make([]model.Record, len(records))
			for i, r := range records {
				rows[i] = model.Record(r)
			}
			opts = append(opts, memory.WithRecords(entity, rows...))
		}
		logger.Info("using in-memory backend",
			zap.Int("users", len(cfg.Memory.Users)),
			zap.Int("models", len(cfg.Memory.Records)),
		)
		return memory.New(opts...), nil
	case "jsonrpc":
		cb := cfg.CircuitBreaker
		client := jsonrpc.New(jsonrpc.Config{
			URL:         cfg.URL,
			Database:    cfg.Database,
			Timeout:     cfg.Timeout,
			AllowedURLs: trusted,
			Breaker: jsonrpc.BreakerConfig{
				FailureThreshold:   cb.FailureThreshold,
				SuccessThreshold:   cb.SuccessThreshold,
				OpenTimeout:        cb.Timeout,
				ErrorRateThreshold: cb.ErrorRateThreshold,
				ErrorRateWindow:    cb.ErrorRateWindow,
			},
		}, jsonrpc.WithBreakerListener(func(state jsonrpc.BreakerState) {
			metrics.SetBackendCircuitBreakerState("odoo", float64(state))
			logger.Warn("backend circuit breaker changed state", zap.String("state", state.String()))
		}))
		metrics.SetBackendCircuitBreakerState("odoo", float64(jsonrpc.BreakerClosed))
		logger.Info("using JSON-RPC backend",
			zap.String("url", cfg.URL),
			zap.String("database", cfg.Database),
			zap.Strings("allowed_base_urls", trusted),
		)
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported backend driver: %q", cfg.Driver)
	}
}

// hostDeps is what buildHandler needs besides the configuration.
type hostDeps struct {
	routes    []resource.Route
	logger    *zap.Logger
	metrics   *observability.Metrics
	limiter   ratelimit.Limiter
	readiness observability.ReadinessChecks
}

// buildHandler mounts the routes on the host selected by cfg.Server.Host.
func buildHandler(ctx context.Context, cfg *config.Config, d hostDeps) (http.Handler, error) {
	doc, err := openapi.Handler(ctx, openapi.Describe(serviceName, observability.Version, d.routes))
	if err != nil {
		return nil, err
	}

	deps := host.Dependencies{
		Config:    cfg,
		Routes:    d.routes,
		Logger:    d.logger,
		Metrics:   d.metrics,
		Limiter:   d.limiter,
		OpenAPI:   doc,
		Readiness: d.readiness,
	}

	switch cfg.Server.Host {
	case "chi", "":
		return chihost.NewRouter(deps), nil
	case "gin":
		if cfg.Observability.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		return ginhost.NewEngine(deps), nil
	default:
		return nil, fmt.Errorf("unsupported host: %q", cfg.Server.Host)
	}
}
