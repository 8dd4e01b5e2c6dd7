package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/odoorest/internal/config"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
	}{
		{"info", false},
		{"debug", true},
		{"warn", false},
		{"bogus", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Sync()

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if !logger.Core().Enabled(zapcore.WarnLevel) {
				t.Error("warn level should always be enabled")
			}
		})
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFrom(ctx); got != "req-1" {
		t.Errorf("RequestIDFrom() = %q, want req-1", got)
	}
	if got := RequestIDFrom(context.Background()); got != "" {
		t.Errorf("RequestIDFrom(empty) = %q, want empty", got)
	}
}

func TestRequestLogger_addsRequestAndTraceIDs(t *testing.T) {
	setupTestTracer(t)

	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx, span := Tracer().Start(context.Background(), "test")
	defer span.End()
	ctx = WithRequestID(ctx, "req-42")

	RequestLogger(ctx, logger).Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", entry["request_id"])
	}
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", entry["trace_id"], span.SpanContext().TraceID())
	}
}

func TestRequestLogger_noContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	RequestLogger(context.Background(), logger).Info("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Error("request_id should be absent")
	}
	if _, ok := entry["trace_id"]; ok {
		t.Error("trace_id should be absent")
	}
}

func TestRequestLogger_prefersContextLogger(t *testing.T) {
	var ctxBuf, fallbackBuf bytes.Buffer
	ctx := WithLogger(context.Background(), newTestLogger(&ctxBuf))

	RequestLogger(ctx, newTestLogger(&fallbackBuf)).Info("routed")

	if ctxBuf.Len() == 0 {
		t.Error("context logger should receive the entry")
	}
	if fallbackBuf.Len() != 0 {
		t.Error("fallback logger should not receive the entry")
	}
}

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"username": "admin",
		"password": "secret-pass",
		"nested": map[string]any{
			"session_id": "abc",
			"name":       "Acme",
		},
		"pin_code": "1234",
	}

	got := RedactBody(body, []string{"pin_code"})

	if got["username"] != "admin" {
		t.Errorf("username = %v, want admin", got["username"])
	}
	if got["password"] != "[REDACTED]" {
		t.Errorf("password = %v, want [REDACTED]", got["password"])
	}
	if got["pin_code"] != "[REDACTED]" {
		t.Errorf("pin_code = %v, want [REDACTED]", got["pin_code"])
	}
	nested := got["nested"].(map[string]any)
	if nested["session_id"] != "[REDACTED]" {
		t.Errorf("nested.session_id = %v, want [REDACTED]", nested["session_id"])
	}
	if nested["name"] != "Acme" {
		t.Errorf("nested.name = %v, want Acme", nested["name"])
	}

	if body["password"] != "secret-pass" {
		t.Error("RedactBody must not modify the input")
	}
}

func TestRedactBody_nil(t *testing.T) {
	if got := RedactBody(nil, nil); got != nil {
		t.Errorf("RedactBody(nil) = %v, want nil", got)
	}
}

func TestNewLogger_consoleFormat(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "warn", LogFormat: "console"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
}

func TestRedactBody_walksListsAndIgnoresCase(t *testing.T) {
	body := map[string]any{
		"Password": "x",
		"child_ids": []any{
			map[string]any{"name": "Bob", "api_key": "k"},
			"plain",
		},
	}

	got := RedactBody(body, []string{"PIN"})

	if got["Password"] != Redacted {
		t.Errorf("Password = %v, want redacted", got["Password"])
	}
	children := got["child_ids"].([]any)
	if children[0].(map[string]any)["api_key"] != Redacted {
		t.Errorf("child api_key = %v, want redacted", children[0])
	}
	if children[0].(map[string]any)["name"] != "Bob" {
		t.Errorf("child name = %v, want Bob", children[0])
	}
	if children[1] != "plain" {
		t.Errorf("scalar element = %v, want plain", children[1])
	}
	if got := RedactBody(map[string]any{"pin": 1}, []string{"PIN"}); got["pin"] != Redacted {
		t.Errorf("extra key matching should ignore case, got %v", got["pin"])
	}
}
