// Package chihost mounts the resource routes on a go-chi router.
package chihost

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/odoorest/internal/host"
	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/internal/ratelimit"
	"github.com/pitabwire/odoorest/internal/resource"
)

// NewRouter creates a chi.Router with the middleware pipeline and every
// resource route. Health, readiness, metrics and the OpenAPI document
// bypass rate limiting and the handler timeout.
func NewRouter(deps host.Dependencies) chi.Router {
	log := deps.Log()
	r := chi.NewRouter()

	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(observability.TracingMiddleware)
	r.Use(host.RequestID)
	r.Use(host.Recovery(log))
	r.Use(host.SecurityHeaders)

	r.NotFound(host.WriteNotFound)
	r.MethodNotAllowed(host.WriteMethodNotAllowed)

	r.Get(host.HealthPath, observability.HandleHealth())
	r.Get(host.ReadyPath, observability.HandleReady(deps.Readiness))
	if p := deps.MetricsPath(); p != "" {
		r.Method(http.MethodGet, p, deps.PromHandler())
	}
	if deps.OpenAPI != nil {
		r.Method(http.MethodGet, host.OpenAPIPath, deps.OpenAPI)
	}

	r.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(ratelimit.Middleware(deps.Limiter, log, func(req *http.Request) {
				if deps.Metrics != nil {
					deps.Metrics.RecordRateLimited(chi.RouteContext(req.Context()).RoutePattern())
				}
			}))
		}
		r.Use(host.HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(host.RequestLogging(log))

		for _, route := range deps.Routes {
			r.Method(route.Method, route.Pattern, Handler(route, deps.Config.Server.SecureCookies))
		}
	})

	return r
}

// Handler adapts one route to net/http: it reads the {id} URL parameter and
// body, attaches the cookie session, runs the endpoint and writes its response.
func Handler(route resource.Route, secureCookies bool) http.HandlerFunc {
	name := route.Method + " " + route.Pattern
	return func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		span.SetName(name)
		span.SetAttributes(observability.AttrRoute.String(route.Pattern))

		req, err := host.ReadRequest(w, r, chi.URLParam(r, resource.IDParam))
		if err != nil {
			host.WriteError(w, err)
			return
		}
		r = host.WithSession(r)
		host.WriteResponse(w, route.Endpoint(r.Context(), req), secureCookies)
	}
}
