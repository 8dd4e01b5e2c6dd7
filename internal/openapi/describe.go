// Package openapi describes the mounted REST resources as an OpenAPI 3
// document, generated from the same route table the hosts serve.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/odoorest/internal/resource"
	"github.com/pitabwire/odoorest/model"
)

// Version is the OpenAPI version of generated documents.
const Version = "3.0.3"

const (
	securityScheme = "odooSession"
	envelopeRef    = "#/components/schemas/Envelope"
	errorRef       = "#/components/schemas/Error"
)

// Describe builds a document with one operation per route. Every operation
// except authenticate requires the session cookie.
func Describe(title, version string, routes []resource.Route) *openapi3.T {
	envelope := envelopeSchema()
	errEnv := errorSchema()

	doc := &openapi3.T{
		OpenAPI: Version,
		Info:    &openapi3.Info{Title: title, Version: version},
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"Envelope": openapi3.NewSchemaRef("", envelope),
				"Error":    openapi3.NewSchemaRef("", errEnv),
			},
			SecuritySchemes: openapi3.SecuritySchemes{
				securityScheme: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
					Type:        "apiKey",
					In:          "cookie",
					Name:        model.SessionCookie,
					Description: "Backend session issued by the authenticate route.",
				}},
			},
		},
	}

	for _, r := range routes {
		item := doc.Paths.Value(r.Pattern)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(r.Pattern, item)
		}
		item.SetOperation(r.Method, describeRoute(r, envelope, errEnv))
	}
	return doc
}

func describeRoute(r resource.Route, envelope, errEnv *openapi3.Schema) *openapi3.Operation {
	op := &openapi3.Operation{
		OperationID: operationID(r),
		Tags:        []string{r.Resource},
		Summary:     summary(r),
		Responses: openapi3.NewResponses(
			openapi3.WithName("default", openapi3.NewResponse().
				WithDescription("Error envelope").
				WithJSONSchemaRef(openapi3.NewSchemaRef(errorRef, errEnv))),
		),
	}
	op.Responses.Set("200", &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription("Success envelope").
		WithJSONSchemaRef(openapi3.NewSchemaRef(envelopeRef, envelope))})

	if strings.Contains(r.Pattern, "{"+resource.IDParam+"}") {
		op.AddParameter(openapi3.NewPathParameter(resource.IDParam).
			WithDescription("Record id").
			WithSchema(openapi3.NewInt64Schema()))
	}

	switch r.Kind {
	case model.OpAuthenticate:
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchema(openapi3.NewObjectSchema().
				WithProperty("username", openapi3.NewStringSchema()).
				WithProperty("password", openapi3.NewStringSchema().WithFormat("password")))}
		op.Security = openapi3.NewSecurityRequirements()
		return op
	case model.OpSearchRead:
		op.AddParameter(query("domain", "JSON array of [field, operator, value] triples", openapi3.NewStringSchema()))
		op.AddParameter(query("fields", "Comma separated field names", openapi3.NewStringSchema()))
		op.AddParameter(query("limit", "Maximum number of records", openapi3.NewIntegerSchema().WithMin(0)))
		op.AddParameter(query("offset", "Number of records to skip", openapi3.NewIntegerSchema().WithMin(0)))
		op.AddParameter(query("order", "Sort specification, e.g. \"name desc\"", openapi3.NewStringSchema()))
	case model.OpRead:
		op.AddParameter(query("fields", "Comma separated field names", openapi3.NewStringSchema()))
	case model.OpCreate, model.OpWrite:
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchema(valuesSchema(r.AllowedFields))}
	}

	op.Security = openapi3.NewSecurityRequirements().
		With(openapi3.NewSecurityRequirement().Authenticate(securityScheme))
	return op
}

func query(name, description string, schema *openapi3.Schema) *openapi3.Parameter {
	return openapi3.NewQueryParameter(name).WithDescription(description).WithSchema(schema)
}

// valuesSchema describes a record body. With an allow-list the known fields
// are listed; otherwise any property is accepted.
func valuesSchema(allowed []string) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	if len(allowed) == 0 {
		return s.WithAnyAdditionalProperties()
	}
	for _, f := range allowed {
		s.WithProperty(f, &openapi3.Schema{})
	}
	return s
}

func envelopeSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("data", &openapi3.Schema{Description: "Operation result"}).
		WithProperty("status", openapi3.NewIntegerSchema())
}

func errorSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("status", openapi3.NewIntegerSchema())
	s.Required = []string{"error", "code", "status"}
	return s
}

func operationID(r resource.Route) string {
	id := r.Resource + "." + string(r.Kind)
	if r.Method == http.MethodPatch {
		id += ".patch"
	}
	return id
}

func summary(r resource.Route) string {
	if r.Model == "" {
		return "Open a backend session"
	}
	return fmt.Sprintf("%s on %s", r.Kind, r.Model)
}

// Handler validates doc once and serves it as JSON.
func Handler(ctx context.Context, doc *openapi3.T) (http.Handler, error) {
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: encoding document: %w", err)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}), nil
}
