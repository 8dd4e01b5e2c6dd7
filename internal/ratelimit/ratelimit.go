// Package ratelimit throttles inbound requests per client key, either in
// process with token buckets or across replicas with fixed Redis windows.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/odoorest/internal/config"
	"github.com/pitabwire/odoorest/internal/envelope"
	"github.com/pitabwire/odoorest/model"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait when not allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// New builds the limiter selected by cfg. The returned close function
// releases the Redis connection, if any.
func New(cfg config.RateLimitConfig) (Limiter, func() error, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(cfg.RPS, cfg.Burst), func() error { return nil }, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("ratelimit: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return NewRedis(client, windowLimit(cfg.RPS, cfg.Window), cfg.Window), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("ratelimit: unsupported driver %q", cfg.Driver)
	}
}

// windowLimit converts a per-second rate to a request count per window.
func windowLimit(rps float64, window time.Duration) int {
	if window <= 0 {
		window = time.Second
	}
	n := int(math.Ceil(rps * window.Seconds()))
	if n < 1 {
		n = 1
	}
	return n
}

// ClientKey identifies the caller by remote IP, without the port.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with a RATE_LIMITED envelope
// and a Retry-After header. Limiter failures let the request through.
func Middleware(l Limiter, logger *zap.Logger, onReject func(*http.Request)) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), ClientKey(r))
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				if onReject != nil {
					onReject(r)
				}
				WriteRejection(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteRejection writes the 429 envelope for a denied decision.
func WriteRejection(w http.ResponseWriter, d Decision) {
	w.Header().Set("Retry-After", RetryAfterSeconds(d))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	env := envelope.FromError(model.NewRateLimitedError())
	w.WriteHeader(env.Status)
	_ = json.NewEncoder(w).Encode(env)
}

// RetryAfterSeconds formats d.RetryAfter for the Retry-After header,
// rounding up to at least one second.
func RetryAfterSeconds(d Decision) string {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
