// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Auth          AuthConfig          `yaml:"auth"`
	Resources     []ResourceConfig    `yaml:"resources"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	// Host selects the web framework adapter: "chi" or "gin".
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SecureCookies marks the session cookies set on authenticate as Secure.
	SecureCookies bool `yaml:"secure_cookies"`
}

// BackendConfig describes the object backend the gateway talks to.
type BackendConfig struct {
	// Driver is "memory" (in-process store) or "jsonrpc" (remote Odoo).
	Driver         string               `yaml:"driver"`
	URL            string               `yaml:"url"`
	Database       string               `yaml:"database"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Memory         MemoryBackendConfig  `yaml:"memory"`
	// AllowedBaseURLs lists extra servers a call may be routed to besides
	// URL. Resource and auth URLs are trusted without being listed here.
	AllowedBaseURLs []string `yaml:"allowed_base_urls"`
}

// CircuitBreakerConfig describes circuit breaker settings for the remote backend.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// MemoryBackendConfig seeds the in-process backend.
type MemoryBackendConfig struct {
	Users   []UserConfig                `yaml:"users"`
	Records map[string][]map[string]any `yaml:"records"`
}

// UserConfig is one login accepted by the in-process backend.
type UserConfig struct {
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
}

// AuthConfig describes the authenticate endpoint.
type AuthConfig struct {
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// ResourceConfig exposes one backend model as a REST resource.
type ResourceConfig struct {
	Name           string   `yaml:"name"`
	Path           string   `yaml:"path"`
	Model          string   `yaml:"model"`
	AllowedFields  []string `yaml:"allowed_fields"`
	Operations     []string `yaml:"operations"`
	RequireBaseURL bool     `yaml:"require_base_url"`
	// BaseURL routes every call of this resource to another server. Clients
	// cannot choose the server.
	BaseURL string `yaml:"base_url"`
}

// Enabled reports whether the resource serves the given operation kind.
// An empty Operations list enables all five CRUD operations.
func (r ResourceConfig) Enabled(kind string) bool {
	if len(r.Operations) == 0 {
		return kind != "authenticate"
	}
	for _, op := range r.Operations {
		if op == kind {
			return true
		}
	}
	return false
}

// RateLimitConfig describes request rate limiting.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// Driver is "memory" or "redis".
	Driver  string        `yaml:"driver"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	Window  time.Duration `yaml:"window"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json" (default) or "console".
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "chi",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Driver:  "memory",
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Auth: AuthConfig{
			Path: "/auth/login",
		},
		RateLimit: RateLimitConfig{
			Driver:  "memory",
			RPS:     50,
			Burst:   100,
			Window:  time.Second,
			AddrEnv: "ODOOREST_REDIS_ADDR",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

var crudOperations = map[string]bool{
	"search_read": true,
	"read":        true,
	"create":      true,
	"write":       true,
	"unlink":      true,
}

// normalize fills values derived from other settings.
func (c *Config) normalize() {
	if c.Auth.URL == "" {
		c.Auth.URL = c.Backend.URL
	}
	if c.Auth.Database == "" {
		c.Auth.Database = c.Backend.Database
	}
	for i := range c.Resources {
		r := &c.Resources[i]
		if r.Path == "" && r.Name != "" {
			r.Path = "/" + r.Name
		}
		r.Path = "/" + strings.Trim(r.Path, "/")
	}
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.Host != "chi" && c.Server.Host != "gin" {
		errs = append(errs, fmt.Sprintf("server.host %q must be chi or gin", c.Server.Host))
	}

	switch c.Backend.Driver {
	case "memory":
	case "jsonrpc":
		if c.Backend.URL == "" && !c.everyResourceHasBaseURL() {
			errs = append(errs, "backend.url is required for the jsonrpc driver unless every resource sets base_url")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.driver %q must be memory or jsonrpc", c.Backend.Driver))
	}

	for i, u := range c.Backend.AllowedBaseURLs {
		if !isHTTPURL(u) {
			errs = append(errs, fmt.Sprintf("backend.allowed_base_urls[%d] %q must be an absolute http(s) URL", i, u))
		}
	}

	if c.Auth.Path != "" && !strings.HasPrefix(c.Auth.Path, "/") {
		errs = append(errs, "auth.path must start with /")
	}

	seen := make(map[string]bool)
	for i, r := range c.Resources {
		prefix := fmt.Sprintf("resources[%d]", i)
		if r.Name == "" {
			errs = append(errs, prefix+".name is required")
		}
		if r.Model == "" {
			errs = append(errs, prefix+".model is required")
		}
		if seen[r.Path] {
			errs = append(errs, fmt.Sprintf("%s.path %q is already used", prefix, r.Path))
		}
		seen[r.Path] = true
		if r.RequireBaseURL && r.BaseURL == "" {
			errs = append(errs, prefix+".base_url is required when require_base_url is set")
		}
		if r.BaseURL != "" && !isHTTPURL(r.BaseURL) {
			errs = append(errs, fmt.Sprintf("%s.base_url %q must be an absolute http(s) URL", prefix, r.BaseURL))
		}
		for _, op := range r.Operations {
			if !crudOperations[op] {
				errs = append(errs, fmt.Sprintf("%s.operations: unknown operation %q", prefix, op))
			}
		}
	}

	if f := c.Observability.LogFormat; f != "" && f != "json" && f != "console" {
		errs = append(errs, fmt.Sprintf("observability.log_format %q must be json or console", f))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Driver != "memory" && c.RateLimit.Driver != "redis" {
			errs = append(errs, fmt.Sprintf("rate_limit.driver %q must be memory or redis", c.RateLimit.Driver))
		}
		if c.RateLimit.RPS <= 0 {
			errs = append(errs, "rate_limit.rps must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) everyResourceHasBaseURL() bool {
	if len(c.Resources) == 0 {
		return false
	}
	for _, r := range c.Resources {
		if r.BaseURL == "" {
			return false
		}
	}
	return true
}

// TrustedBaseURLs returns every server URL the operator configured: the
// allow list, each resource base_url and the auth URL. The backend URL
// itself is always trusted by the gateway.
func (c *Config) TrustedBaseURLs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		u = strings.TrimRight(u, "/")
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, u := range c.Backend.AllowedBaseURLs {
		add(u)
	}
	for _, r := range c.Resources {
		add(r.BaseURL)
	}
	add(c.Auth.URL)
	return out
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// applyEnvOverrides reads ODOOREST_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ODOOREST_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ODOOREST_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ODOOREST_BACKEND_DRIVER"); v != "" {
		cfg.Backend.Driver = v
	}
	if v := os.Getenv("ODOOREST_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("ODOOREST_BACKEND_DATABASE"); v != "" {
		cfg.Backend.Database = v
	}
	if v := os.Getenv("ODOOREST_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("ODOOREST_RATE_LIMIT_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.RateLimit.Enabled = enabled
		}
	}
}
