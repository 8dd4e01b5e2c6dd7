package resource

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/odoorest/internal/config"
	"github.com/pitabwire/odoorest/internal/endpoint"
	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/model"
)

// IDParam is the name of the path parameter of item routes.
const IDParam = "id"

// Route is one mounted endpoint. Pattern uses {id} for the item segment;
// hosts translate it to their own syntax.
type Route struct {
	Method   string
	Pattern  string
	Kind     model.OperationKind
	Resource string
	// Model is the backend model name; empty for authenticate.
	Model         string
	AllowedFields []string
	Endpoint      endpoint.Endpoint[Request]
}

// Routes decorates the handlers of every enabled operation of every
// resource, plus the authenticate route, in a stable order.
func Routes(x endpoint.Executor, resources []config.ResourceConfig, auth config.AuthConfig) []Route {
	routes := []Route{{
		Method:   http.MethodPost,
		Pattern:  auth.Path,
		Kind:     model.OpAuthenticate,
		Resource: "auth",
		Endpoint: traced("auth", endpoint.Authenticate(x, auth.URL, auth.Database, Login)),
	}}

	for _, res := range resources {
		var opts []endpoint.Option
		if len(res.AllowedFields) > 0 {
			opts = append(opts, endpoint.WithAllowedFields(res.AllowedFields...))
		}
		if res.RequireBaseURL {
			opts = append(opts, endpoint.RequireBaseURL())
		}

		list, get, create, update, del := pinBaseURL(List, res.BaseURL), pinBaseURL(Get, res.BaseURL),
			pinBaseURL(Create, res.BaseURL), pinBaseURL(Update, res.BaseURL), pinBaseURL(Delete, res.BaseURL)

		item := res.Path + "/{" + IDParam + "}"
		add := func(method, pattern string, kind model.OperationKind, ep endpoint.Endpoint[Request]) {
			routes = append(routes, Route{
				Method:        method,
				Pattern:       pattern,
				Kind:          kind,
				Resource:      res.Name,
				Model:         res.Model,
				AllowedFields: res.AllowedFields,
				Endpoint:      traced(res.Name, ep),
			})
		}

		if res.Enabled(string(model.OpSearchRead)) {
			add(http.MethodGet, res.Path, model.OpSearchRead, endpoint.SearchRead(x, res.Model, list, opts...))
		}
		if res.Enabled(string(model.OpCreate)) {
			add(http.MethodPost, res.Path, model.OpCreate, endpoint.Create(x, res.Model, create, opts...))
		}
		if res.Enabled(string(model.OpRead)) {
			add(http.MethodGet, item, model.OpRead, endpoint.Read(x, res.Model, get, opts...))
		}
		if res.Enabled(string(model.OpWrite)) {
			ep := endpoint.Write(x, res.Model, update, opts...)
			add(http.MethodPut, item, model.OpWrite, ep)
			add(http.MethodPatch, item, model.OpWrite, ep)
		}
		if res.Enabled(string(model.OpUnlink)) {
			add(http.MethodDelete, item, model.OpUnlink, endpoint.Unlink(x, res.Model, del, opts...))
		}
	}
	return routes
}

// traced tags the active request span with the resource name.
func traced(name string, ep endpoint.Endpoint[Request]) endpoint.Endpoint[Request] {
	return func(ctx context.Context, req Request) model.Response {
		trace.SpanFromContext(ctx).SetAttributes(observability.AttrResource.String(name))
		return ep(ctx, req)
	}
}
