// Package jsonrpc is the remote realization of model.Gateway. It talks to an
// Odoo server over JSON-RPC 2.0: a session handshake on
// /web/session/authenticate, then model calls on /web/dataset/call_kw with
// the session cookie.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/model"
)

const (
	authenticatePath = "/web/session/authenticate"
	callKWPath       = "/web/dataset/call_kw"

	maxResponseBytes = 10 << 20
)

// Config configures a Client.
type Config struct {
	// URL is the default server URL, used when neither the session nor the
	// call supplies one.
	URL string
	// Database is the default database for Authenticate.
	Database string
	// Timeout bounds every round trip. Defaults to 10s.
	Timeout time.Duration
	Breaker BreakerConfig
	// AllowedURLs are the other servers a session or call may target.
	// Anything else is rejected before a request, and the session cookies
	// with it, leaves the process.
	AllowedURLs []string
}

// Client implements model.Gateway against a remote Odoo server.
type Client struct {
	cfg     Config
	allowed map[string]struct{}
	http    *http.Client
	breaker *Breaker
	seq     atomic.Int64
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient    *http.Client
	onBreakerMove func(BreakerState)
}

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithBreakerListener registers a callback for circuit breaker transitions.
func WithBreakerListener(fn func(BreakerState)) Option {
	return func(o *clientOptions) { o.onBreakerMove = fn }
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedURLs)+1)
	if cfg.URL != "" {
		allowed[cfg.URL] = struct{}{}
	}
	for _, u := range cfg.AllowedURLs {
		allowed[strings.TrimRight(u, "/")] = struct{}{}
	}

	return &Client{
		cfg:     cfg,
		allowed: allowed,
		http:    hc,
		breaker: NewBreaker(cfg.Breaker, o.onBreakerMove),
	}
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// HealthCheck reports the backend as unhealthy while the breaker is open.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.breaker.State() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

// reply is a decoded JSON-RPC response.
type reply struct {
	result  gjson.Result
	cookies []*http.Cookie
}

// call posts one JSON-RPC request and returns its result member. Backend
// errors are classified into *model.Error values.
func (c *Client) call(ctx context.Context, serverURL, path string, params any, cookies map[string]string) (reply, error) {
	if serverURL == "" {
		return reply{}, model.NewValidationError(model.KeyBaseURL, "no backend URL is configured; set backend.url or the resource base_url")
	}
	if _, ok := c.allowed[strings.TrimRight(serverURL, "/")]; !ok {
		return reply{}, model.NewDisallowedBaseURLError(serverURL)
	}
	if err := c.breaker.Allow(); err != nil {
		return reply{}, model.NewBackendUnavailableError(err)
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: "call", Params: params, ID: c.seq.Add(1)})
	if err != nil {
		return reply{}, model.NewInternalError(fmt.Errorf("jsonrpc: marshal request: %w", err))
	}

	ctx, span := observability.StartBackendSpan(ctx, path)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.roundTrip(ctx, serverURL, path, body, cookies)
	observability.EndBackendSpan(span, err)
	return out, err
}

func (c *Client) roundTrip(ctx context.Context, serverURL, path string, body []byte, cookies map[string]string) (reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return reply{}, model.NewValidationError(model.KeyBaseURL, fmt.Sprintf("invalid backend URL: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		return reply{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.Failure()
		return reply{}, classifyTransport(ctx, fmt.Errorf("jsonrpc: read response: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.breaker.Failure()
		return reply{}, model.NewBackendUnavailableError(fmt.Errorf("jsonrpc: %s returned status %d", path, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.Success()
		return reply{}, model.NewTransportError(fmt.Errorf("%s returned status %d", path, resp.StatusCode))
	}
	if !gjson.ValidBytes(raw) {
		c.breaker.Failure()
		return reply{}, model.NewTransportError(errors.New("backend returned a malformed JSON-RPC response"))
	}
	c.breaker.Success()

	doc := gjson.ParseBytes(raw)
	if e := doc.Get("error"); e.Exists() && e.Type != gjson.Null {
		return reply{}, classifyRPCError(e)
	}
	return reply{result: doc.Get("result"), cookies: resp.Cookies()}, nil
}

// classifyTransport maps a failed round trip to a transport error code.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return model.NewTransportError(err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return model.NewBackendTimeoutError(err)
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return model.NewBackendUnavailableError(err)
	}
	return model.NewTransportError(err)
}

// classifyRPCError maps an Odoo error member to a model error. The
// exception class name in data.name decides the code; the message shown to
// the caller is the backend's own text.
func classifyRPCError(e gjson.Result) error {
	msg := e.Get("data.message").String()
	if msg == "" {
		msg = e.Get("message").String()
	}
	if msg == "" {
		msg = "Odoo Server Error"
	}

	name := e.Get("data.name").String()
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}

	switch {
	case e.Get("code").Int() == 100, name == "SessionExpiredException":
		return model.NewSessionExpiredError(msg)
	case name == "AccessDenied":
		return model.NewAuthenticationError(msg)
	case name == "AccessError":
		return model.NewAccessDeniedError(msg)
	case name == "MissingError":
		return model.NewNotFoundError(msg)
	default:
		return model.NewDomainError(msg)
	}
}

// serverURL picks the URL for a session-bound call.
func (c *Client) serverURL(sess *model.Session) string {
	if sess != nil && sess.ServerURL != "" {
		return sess.ServerURL
	}
	return c.cfg.URL
}

func sessionCookies(sess *model.Session) map[string]string {
	out := make(map[string]string, len(sess.Cookies)+1)
	for k, v := range sess.Cookies {
		out[k] = v
	}
	out[model.SessionCookie] = sess.ID
	return out
}
