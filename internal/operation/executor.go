// Package operation runs the request-to-operation pipeline: validate the
// handler's parameter dict, call the backend, run the hooks, and build the
// response.
package operation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/odoorest/internal/contract"
	"github.com/pitabwire/odoorest/internal/envelope"
	"github.com/pitabwire/odoorest/model"
)

// SpanName is the name of the span wrapping every executed operation.
const SpanName = "odoorest.operation"

// Span attribute keys.
var (
	AttrKind   = attribute.Key("odoorest.kind")
	AttrEntity = attribute.Key("odoorest.entity")
	AttrStatus = attribute.Key("odoorest.status")
	AttrCode   = attribute.Key("odoorest.code")
)

// Operation is one decorated endpoint: an operation kind bound to an entity.
// ServerURL and Database are only used by authenticate.
type Operation struct {
	Kind      model.OperationKind
	Entity    string
	Options   contract.Options
	ServerURL string
	Database  string
}

// Observer receives one event per executed operation.
type Observer interface {
	OnOperation(ctx context.Context, event Event)
}

// Event describes the outcome of one operation.
type Event struct {
	Kind     model.OperationKind `json:"kind"`
	Entity   string              `json:"entity"`
	Status   int                 `json:"status"`
	Code     string              `json:"code,omitempty"`
	Duration time.Duration       `json:"duration"`
	// Stage is the pipeline stage that produced the outcome: validate,
	// backend, after_execution, custom_response or envelope.
	Stage string `json:"stage"`
	Error string `json:"error,omitempty"`
}

// Pipeline stages reported in Event.Stage.
const (
	StageValidate       = "validate"
	StageBackend        = "backend"
	StageAfterExecution = model.KeyAfterExecution
	StageCustomResponse = model.KeyCustomResponse
	StageEnvelope       = "envelope"
)

// Executor runs operations against a Gateway. It holds no per-call state and
// is safe for concurrent use.
type Executor struct {
	gateway   model.Gateway
	logger    *zap.Logger
	tracer    trace.Tracer
	observers []Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithObserver adds an operation observer.
func WithObserver(obs Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, obs) }
}

// NewExecutor creates an Executor bound to gw.
func NewExecutor(gw model.Gateway, opts ...Option) *Executor {
	e := &Executor{
		gateway: gw,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("github.com/pitabwire/odoorest"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op with the handler's raw parameter dict. It never returns an
// error: every failure is converted into an error envelope. The order is
// fixed: validate, backend call, after_execution, custom_response, envelope.
func (e *Executor) Execute(ctx context.Context, op Operation, raw model.ParamDict) model.Response {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, SpanName, trace.WithAttributes(
		AttrKind.String(string(op.Kind)),
		AttrEntity.String(op.Entity),
	))
	defer span.End()

	log := e.logger.With(zap.String("kind", string(op.Kind)), zap.String("entity", op.Entity))
	log.Debug("executing operation", zap.Strings("params", paramNames(raw)))

	resp, stage, err := e.run(ctx, op, raw)
	if err != nil {
		env := envelope.FromError(err)
		resp = model.Response{Status: env.Status, Body: env}
		e.logFailure(log, stage, env, err)
		span.SetAttributes(AttrCode.String(env.Code))
		span.SetStatus(codes.Error, env.Error)
		if env.Status >= 500 {
			span.RecordError(err)
		}
	} else {
		log.Info("operation executed", zap.Int("status", resp.Status), zap.String("stage", stage),
			zap.Duration("duration", time.Since(start)))
	}
	span.SetAttributes(AttrStatus.Int(resp.Status))

	e.notify(ctx, op, resp, stage, err, time.Since(start))
	return resp
}

func (e *Executor) run(ctx context.Context, op Operation, raw model.ParamDict) (model.Response, string, error) {
	c, err := contract.For(op.Kind)
	if err != nil {
		return model.Response{}, StageValidate, model.NewValidationError("", err.Error())
	}
	params, err := c.Parse(raw, op.Options)
	if err != nil {
		return model.Response{}, StageValidate, err
	}

	forward, hooks := model.SplitHooks(params)

	result, sess, err := e.dispatch(ctx, op, forward)
	if err != nil {
		return model.Response{}, StageBackend, err
	}

	if hooks.AfterExecution != nil {
		result, err = callHook(model.KeyAfterExecution, hooks.AfterExecution, result, forward)
		if err != nil {
			return model.Response{}, StageAfterExecution, err
		}
	}

	if hooks.CustomResponse != nil {
		body, err := callHook(model.KeyCustomResponse, hooks.CustomResponse, result, forward)
		if err != nil {
			return model.Response{}, StageCustomResponse, err
		}
		return model.Response{Status: model.StatusOf(body), Body: body, Session: sess}, StageCustomResponse, nil
	}

	env := envelope.Success(result)
	return model.Response{Status: env.Status, Body: env, Session: sess}, StageEnvelope, nil
}

// dispatch calls the gateway primitive for p. The returned session is only
// set by authenticate.
func (e *Executor) dispatch(ctx context.Context, op Operation, p model.Params) (any, *model.Session, error) {
	if auth, ok := p.(model.AuthenticateParams); ok {
		sess, err := e.gateway.Authenticate(ctx, op.ServerURL, op.Database, auth.Username, auth.Password)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"message": "Authentication successful", "uid": sess.UID}, sess, nil
	}

	sess := model.SessionFrom(ctx)
	if sess == nil || sess.ID == "" {
		return nil, nil, model.NewSessionMissingError()
	}

	switch p := p.(type) {
	case model.SearchReadParams:
		records, err := e.gateway.SearchRead(ctx, sess.WithServerURL(p.BaseURL), op.Entity, model.SearchQuery{
			Domain: p.Domain,
			Fields: p.Fields,
			Limit:  p.Limit,
			Offset: p.Offset,
			Order:  p.Order,
		})
		return records, nil, err
	case model.ReadParams:
		records, err := e.gateway.Read(ctx, sess.WithServerURL(p.BaseURL), op.Entity, p.IDs, p.Fields)
		return records, nil, err
	case model.CreateParams:
		id, err := e.gateway.Create(ctx, sess.WithServerURL(p.BaseURL), op.Entity, p.Values)
		return id, nil, err
	case model.WriteParams:
		ok, err := e.gateway.Write(ctx, sess.WithServerURL(p.BaseURL), op.Entity, p.IDs, p.Values)
		return ok, nil, err
	case model.UnlinkParams:
		ok, err := e.gateway.Unlink(ctx, sess.WithServerURL(p.BaseURL), op.Entity, p.IDs)
		return ok, nil, err
	}
	return nil, nil, model.NewInternalError(fmt.Errorf("operation: unsupported parameter set %T", p))
}

// callHook runs a caller-supplied hook. Errors and panics both become
// HOOK_ERROR.
func callHook(name string, fn func(any, model.Params) (any, error), result any, p model.Params) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, model.NewHookError(name, fmt.Errorf("panic: %v", r))
		}
	}()
	out, err = fn(result, p)
	if err != nil {
		return nil, model.NewHookError(name, err)
	}
	return out, nil
}

func (e *Executor) logFailure(log *zap.Logger, stage string, env model.Envelope, err error) {
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.Int("status", env.Status),
		zap.String("code", env.Code),
		zap.Error(err),
	}
	if env.Status >= 500 {
		log.Error("operation failed", fields...)
		return
	}
	log.Warn("operation rejected", fields...)
}

func (e *Executor) notify(ctx context.Context, op Operation, resp model.Response, stage string, err error, d time.Duration) {
	if len(e.observers) == 0 {
		return
	}
	event := Event{
		Kind:     op.Kind,
		Entity:   op.Entity,
		Status:   resp.Status,
		Duration: d,
		Stage:    stage,
	}
	if err != nil {
		me := envelope.Classify(err)
		event.Code = me.Code
		event.Error = me.Message
	}
	for _, obs := range e.observers {
		obs.OnOperation(ctx, event)
	}
}

// paramNames lists the keys of raw without their values, which may hold
// credentials.
func paramNames(raw model.ParamDict) []string {
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
