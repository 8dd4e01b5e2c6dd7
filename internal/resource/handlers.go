package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/pitabwire/odoorest/internal/endpoint"
	"github.com/pitabwire/odoorest/internal/observability"
	"github.com/pitabwire/odoorest/model"
)

// List builds a search_read dict from the query string: domain (a JSON
// array of triples), fields (comma separated), limit, offset and order.
// A missing domain means every record.
func List(_ context.Context, r Request) (model.ParamDict, error) {
	if err := rejectBaseURL(r, nil); err != nil {
		return nil, err
	}
	p := model.ParamDict{"domain": []any{}}
	if raw := r.Query.Get("domain"); raw != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		var domain any
		if err := dec.Decode(&domain); err != nil {
			return nil, model.NewValidationError("domain", "domain must be a JSON array of [field, operator, value] triples")
		}
		p["domain"] = domain
	}
	if r.Query.Has("fields") {
		p["fields"] = fieldList(r.Query.Get("fields"))
	}
	if raw := r.Query.Get("limit"); raw != "" {
		p["limit"] = integer(raw)
	}
	if raw := r.Query.Get("offset"); raw != "" {
		p["offset"] = integer(raw)
	}
	if order := r.Query.Get("order"); order != "" {
		p["order"] = order
	}
	return p, nil
}

// Get builds a read dict for the {id} path segment.
func Get(_ context.Context, r Request) (model.ParamDict, error) {
	if err := rejectBaseURL(r, nil); err != nil {
		return nil, err
	}
	p := model.ParamDict{"ids": []any{r.id()}}
	if r.Query.Has("fields") {
		p["fields"] = fieldList(r.Query.Get("fields"))
	}
	return p, nil
}

// Create passes the JSON body through as the record values.
func Create(_ context.Context, r Request) (model.ParamDict, error) {
	body, err := r.object()
	if err != nil {
		return nil, err
	}
	if err := rejectBaseURL(r, body); err != nil {
		return nil, err
	}
	return model.ParamDict(body), nil
}

// Update builds a write dict: the JSON body holds the new values and the
// {id} path segment selects the record.
func Update(_ context.Context, r Request) (model.ParamDict, error) {
	body, err := r.object()
	if err != nil {
		return nil, err
	}
	if err := rejectBaseURL(r, body); err != nil {
		return nil, err
	}
	return model.ParamDict{"ids": []any{r.id()}, "values": body}, nil
}

// Delete builds an unlink dict for the {id} path segment.
func Delete(_ context.Context, r Request) (model.ParamDict, error) {
	if err := rejectBaseURL(r, nil); err != nil {
		return nil, err
	}
	return model.ParamDict{"ids": []any{r.id()}}, nil
}

// Login passes the JSON body through as the authenticate dict.
func Login(ctx context.Context, r Request) (model.ParamDict, error) {
	body, err := r.object()
	if err != nil {
		return nil, err
	}
	observability.LoggerFrom(ctx, zap.NewNop()).Debug("authenticate request",
		zap.Any("body", observability.RedactBody(body, nil)),
	)
	return model.ParamDict(body), nil
}

// rejectBaseURL refuses a base_url chosen by the client, in the query or
// the body. The backend server comes from configuration only; the session
// cookie is forwarded to it.
func rejectBaseURL(r Request, body map[string]any) error {
	_, inBody := body[model.KeyBaseURL]
	if inBody || r.Query.Has(model.KeyBaseURL) {
		return model.NewValidationError(model.KeyBaseURL, "base_url is set by the server configuration")
	}
	return nil
}

// pinBaseURL routes every call of h to the configured server url.
func pinBaseURL(h endpoint.Handler[Request], url string) endpoint.Handler[Request] {
	if url == "" {
		return h
	}
	return func(ctx context.Context, r Request) (model.ParamDict, error) {
		p, err := h(ctx, r)
		if err != nil {
			return nil, err
		}
		if p == nil {
			p = model.ParamDict{}
		}
		p[model.KeyBaseURL] = url
		return p, nil
	}
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
