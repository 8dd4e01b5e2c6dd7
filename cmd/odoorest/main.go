// Package main is the entry point for the odoorest server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/odoorest/internal/config"
	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/internal/operation"
	"github.com/pitabwire/odoorest/internal/ratelimit"
	"github.com/pitabwire/odoorest/internal/resource"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

const serviceName = "odoorest"

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags and the optional .env file.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		return 1
	}

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, serviceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the backend gateway.
	gw, err := buildGateway(cfg.Backend, cfg.TrustedBaseURLs(), metrics, logger)
	if err != nil {
		logger.Error("backend initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Build the operation pipeline and resource routes.
	executor := operation.NewExecutor(gw,
		operation.WithLogger(logger),
		operation.WithTracer(observability.Tracer()),
		operation.WithObserver(metrics),
	)
	routes := resource.Routes(executor, cfg.Resources, cfg.Auth)

	// Step 6: Initialize the rate limiter (optional).
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	limiter, limiterClose, err := buildLimiter(bgCtx, cfg.RateLimit, logger)
	if err != nil {
		logger.Error("rate limiter initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Build the HTTP handler for the configured host.
	readiness := observability.ReadinessChecks{Backend: gw}
	if hc, ok := limiter.(observability.HealthChecker); ok {
		readiness.RateLimiter = hc
	}

	handler, err := buildHandler(ctx, cfg, hostDeps{
		routes:    routes,
		logger:    logger,
		metrics:   metrics,
		limiter:   limiter,
		readiness: readiness,
	})
	if err != nil {
		logger.Error("router initialization failed", zap.Error(err))
		return 1
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Step 8: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("host", cfg.Server.Host),
		zap.String("backend", cfg.Backend.Driver),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("routes", len(routes)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks and release the limiter.
	bgCancel()
	if err := limiterClose(); err != nil {
		logger.Error("rate limiter close error", zap.Error(err))
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadEnvFile loads path into the process environment. A missing file is
// not an error; variables already set win over the file.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// buildLimiter creates the rate limiter when enabled. The memory limiter
// gets a sweeper bound to ctx. A nil limiter disables rate limiting.
func buildLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *zap.Logger) (ratelimit.Limiter, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Enabled {
		return nil, noop, nil
	}

	l, closeFn, err := ratelimit.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if m, ok := l.(*ratelimit.Memory); ok {
		m.StartSweeper(ctx, time.Minute, 10*time.Minute)
	}
	logger.Info("rate limiting enabled",
		zap.String("driver", cfg.Driver),
		zap.Float64("rps", cfg.RPS),
		zap.Int("burst", cfg.Burst),
	)
	return l, closeFn, nil
}
