// Package ginhost mounts the resource routes on a gin engine. It mirrors
// chihost with gin-native middleware so both hosts answer identically.
package ginhost

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/odoorest/internal/host"
	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/internal/ratelimit"
	"github.com/pitabwire/odoorest/internal/resource"
	"github.com/pitabwire/odoorest/model"
)

// NewEngine creates a gin.Engine with the middleware pipeline and every
// resource route. The caller chooses the gin mode.
func NewEngine(deps host.Dependencies) *gin.Engine {
	log := deps.Log()
	e := gin.New()
	e.HandleMethodNotAllowed = true

	if deps.Metrics != nil {
		e.Use(metrics(deps.Metrics))
	}
	e.Use(tracing, requestID, recovery(log), securityHeaders)

	e.NoRoute(gin.WrapF(host.WriteNotFound))
	e.NoMethod(gin.WrapF(host.WriteMethodNotAllowed))

	e.GET(host.HealthPath, gin.WrapF(observability.HandleHealth()))
	e.GET(host.ReadyPath, gin.WrapF(observability.HandleReady(deps.Readiness)))
	if p := deps.MetricsPath(); p != "" {
		e.GET(p, gin.WrapH(deps.PromHandler()))
	}
	if deps.OpenAPI != nil {
		e.GET(host.OpenAPIPath, gin.WrapH(deps.OpenAPI))
	}

	api := e.Group("/")
	if deps.Limiter != nil {
		api.Use(rateLimit(deps.Limiter, deps.Metrics, log))
	}
	api.Use(timeout(deps.Config.Server.HandlerTimeout), logging(log))

	for _, route := range deps.Routes {
		api.Handle(route.Method, Path(route.Pattern), Handler(route, deps.Config.Server.SecureCookies))
	}
	return e
}

// Handler adapts one route to gin.
func Handler(route resource.Route, secureCookies bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := host.ReadRequest(c.Writer, c.Request, c.Param(resource.IDParam))
		if err != nil {
			host.WriteError(c.Writer, err)
			return
		}
		r := host.WithSession(c.Request)
		host.WriteResponse(c.Writer, route.Endpoint(r.Context(), req), secureCookies)
	}
}

// Path converts a {name} route pattern to gin's :name syntax.
func Path(pattern string) string {
	segs := strings.Split(pattern, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
			segs[i] = ":" + s[1:len(s)-1]
		}
	}
	return strings.Join(segs, "/")
}

// Pattern converts a gin full path back to {name} syntax so metric labels
// match the chi host. An unmatched request falls back to its URL path.
func Pattern(c *gin.Context) string {
	full := c.FullPath()
	if full == "" {
		return c.Request.URL.Path
	}
	segs := strings.Split(full, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		reqSize := 0
		if c.Request.ContentLength > 0 {
			reqSize = int(c.Request.ContentLength)
		}
		respSize := c.Writer.Size()
		if respSize < 0 {
			respSize = 0
		}
		m.RecordHTTPRequest(c.Request.Method, Pattern(c), c.Writer.Status(), time.Since(start), reqSize, respSize)
	}
}

func tracing(c *gin.Context) {
	ctx, span := observability.StartServerSpan(c.Request.Context(), c.Request.Method, c.Request.URL.Path, c.Request.Header)
	observability.InjectTraceHeaders(ctx, c.Writer.Header())
	c.Request = c.Request.WithContext(ctx)

	c.Next()

	if c.FullPath() != "" {
		pattern := Pattern(c)
		span.SetName(c.Request.Method + " " + pattern)
		span.SetAttributes(observability.AttrRoute.String(pattern))
	}
	observability.EndServerSpan(span, c.Writer.Status())
}

func requestID(c *gin.Context) {
	id := c.GetHeader(host.RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	ctx := observability.WithRequestID(c.Request.Context(), id)
	c.Request = c.Request.WithContext(ctx)
	trace.SpanFromContext(ctx).SetAttributes(observability.AttrRequestID.String(id))
	c.Header(host.RequestIDHeader, id)
	c.Next()
}

func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				observability.RequestLogger(c.Request.Context(), logger).Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
				)
				host.WriteError(c.Writer, model.NewInternalError(fmt.Errorf("panic: %v", rec)))
				c.Abort()
			}
		}()
		c.Next()
	}
}

func securityHeaders(c *gin.Context) {
	host.SetSecurityHeaders(c.Writer.Header())
	c.Next()
}

func rateLimit(l ratelimit.Limiter, m *observability.Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), ratelimit.ClientKey(c.Request))
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !d.Allowed {
			if m != nil {
				m.RecordRateLimited(Pattern(c))
			}
			ratelimit.WriteRejection(c.Writer, d)
			c.Abort()
			return
		}
		c.Next()
	}
}

func timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func logging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		log := observability.RequestLogger(c.Request.Context(), logger)
		c.Request = c.Request.WithContext(observability.WithLogger(c.Request.Context(), log))

		c.Next()

		host.LogRequest(log, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
