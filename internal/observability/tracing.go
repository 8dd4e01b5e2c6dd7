package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/odoorest/internal/config"
	"github.com/pitabwire/odoorest/model"
)

const tracerName = "github.com/pitabwire/odoorest"

// BackendSpanPrefix prefixes the name of every outbound backend span; the
// JSON-RPC path follows it.
const BackendSpanPrefix = "odoorest.backend"

// Attribute keys shared by HTTP and backend spans.
var (
	AttrResource    = attribute.Key("odoorest.resource")
	AttrRoute       = attribute.Key("odoorest.route")
	AttrRequestID   = attribute.Key("odoorest.request_id")
	AttrBackendPath = attribute.Key("odoorest.backend.path")
	AttrErrorCode   = attribute.Key("odoorest.error.code")
	AttrCommit      = attribute.Key("odoorest.commit")
)

// InitTracing installs the global tracer provider and W3C propagators.
// When tracing is disabled it only installs the propagators, so inbound
// trace context still reaches the backend, and returns a no-op shutdown.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
		AttrCommit.String(Commit),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout)", cfg.Exporter)
}

// newSampler is parent based; the ratio defaults to 0.1 and anything at or
// above 1 samples everything.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch rate := cfg.SamplingRate; {
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the package tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// TraceIDFromContext returns the active trace id, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// StartBackendSpan starts the client span around one backend call.
func StartBackendSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, BackendSpanPrefix+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrBackendPath.String(path)),
	)
}

// EndBackendSpan ends a backend span. A failed call records the error and,
// for classified failures, the error code.
func EndBackendSpan(span trace.Span, err error) {
	if err != nil {
		if e := model.AsError(err); e != nil {
			span.SetAttributes(AttrErrorCode.String(e.Code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartServerSpan continues the caller's trace from headers and starts the
// server span for one inbound request.
func StartServerSpan(ctx context.Context, method, path string, headers http.Header) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
	return Tracer().Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLPath(path),
		),
	)
}

// EndServerSpan records the response status and ends the span. Only 5xx
// marks the span failed; client errors are the caller's problem.
func EndServerSpan(span trace.Span, status int) {
	span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	span.End()
}

// TracingMiddleware wraps every request in a server span and echoes the
// trace context on the response.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := StartServerSpan(r.Context(), r.Method, r.URL.Path, r.Header)
		InjectTraceHeaders(ctx, w.Header())

		rec := &spanStatus{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		EndServerSpan(span, rec.status)
	})
}

// InjectTraceHeaders writes the trace context of ctx into headers.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

type spanStatus struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *spanStatus) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status, w.wroteHeader = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *spanStatus) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
