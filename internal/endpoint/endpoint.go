// Package endpoint is the decorator layer. Each constructor wraps a handler
// that returns a parameter dict and binds it to one operation kind and
// entity. The result is host neutral: hosts adapt Req and serialize the
// returned model.Response.
package endpoint

import (
	"context"

	"github.com/pitabwire/odoorest/internal/contract"
	"github.com/pitabwire/odoorest/internal/envelope"
	"github.com/pitabwire/odoorest/internal/operation"
	"github.com/pitabwire/odoorest/model"
)

// Handler builds the parameter dict for one request.
type Handler[Req any] func(ctx context.Context, req Req) (model.ParamDict, error)

// Endpoint is a decorated handler.
type Endpoint[Req any] func(ctx context.Context, req Req) model.Response

// Executor runs an operation. *operation.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, op operation.Operation, raw model.ParamDict) model.Response
}

// Option tunes the operation bound by a decorator.
type Option func(*operation.Operation)

// WithAllowedFields restricts fields and values to the given names.
func WithAllowedFields(fields ...string) Option {
	return func(op *operation.Operation) { op.Options.AllowedFields = fields }
}

// RequireBaseURL makes base_url mandatory in the handler's dict.
func RequireBaseURL() Option {
	return func(op *operation.Operation) { op.Options.RequireBaseURL = true }
}

// WithContractOptions replaces the contract options wholesale.
func WithContractOptions(o contract.Options) Option {
	return func(op *operation.Operation) { op.Options = o }
}

// SearchRead decorates h as a search_read on entity.
func SearchRead[Req any](x Executor, entity string, h Handler[Req], opts ...Option) Endpoint[Req] {
	return decorate(x, operation.Operation{Kind: model.OpSearchRead, Entity: entity}, h, opts)
}

// Read decorates h as a read on entity.
func Read[Req any](x Executor, entity string, h Handler[Req], opts ...Option) Endpoint[Req] {
	return decorate(x, operation.Operation{Kind: model.OpRead, Entity: entity}, h, opts)
}

// Create decorates h as a create on entity.
func Create[Req any](x Executor, entity string, h Handler[Req], opts ...Option) Endpoint[Req] {
	return decorate(x, operation.Operation{Kind: model.OpCreate, Entity: entity}, h, opts)
}

// Write decorates h as a write on entity.
func Write[Req any](x Executor, entity string, h Handler[Req], opts ...Option) Endpoint[Req] {
	return decorate(x, operation.Operation{Kind: model.OpWrite, Entity: entity}, h, opts)
}

// Unlink decorates h as an unlink on entity.
func Unlink[Req any](x Executor, entity string, h Handler[Req], opts ...Option) Endpoint[Req] {
	return decorate(x, operation.Operation{Kind: model.OpUnlink, Entity: entity}, h, opts)
}

// Authenticate decorates h as the session handshake against the given
// server and database, which are fixed here rather than per call.
func Authenticate[Req any](x Executor, serverURL, database string, h Handler[Req]) Endpoint[Req] {
	return decorate(x, operation.Operation{Kind: model.OpAuthenticate, ServerURL: serverURL, Database: database}, h, nil)
}

// For decorates h with an arbitrary operation kind.
func For[Req any](x Executor, kind model.OperationKind, entity string, h Handler[Req], opts ...Option) Endpoint[Req] {
	return decorate(x, operation.Operation{Kind: kind, Entity: entity}, h, opts)
}

func decorate[Req any](x Executor, op operation.Operation, h Handler[Req], opts []Option) Endpoint[Req] {
	contract.MustFor(op.Kind)
	for _, opt := range opts {
		opt(&op)
	}
	return func(ctx context.Context, req Req) model.Response {
		raw, err := h(ctx, req)
		if err != nil {
			env := envelope.FromError(err)
			return model.Response{Status: env.Status, Body: env}
		}
		return x.Execute(ctx, op, raw)
	}
}
