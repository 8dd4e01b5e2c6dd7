package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pitabwire/odoorest/internal/envelope"
	"github.com/pitabwire/odoorest/internal/resource"
	"github.com/pitabwire/odoorest/model"
)

// WriteJSON writes a JSON response with the given status code. A body that
// cannot be encoded is replaced by an INTERNAL_ERROR envelope.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		env := envelope.FromError(model.NewInternalError(fmt.Errorf("encoding response: %w", err)))
		status = env.Status
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(env)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes the error envelope for err with its mapped status.
func WriteError(w http.ResponseWriter, err error) {
	env := envelope.FromError(err)
	WriteJSON(w, env.Status, env)
}

// WriteResponse serializes a pipeline response. A session returned by
// authenticate is set as cookies before the body is written.
func WriteResponse(w http.ResponseWriter, resp model.Response, secureCookies bool) {
	for _, c := range resource.SessionCookies(resp.Session, secureCookies) {
		http.SetCookie(w, c)
	}
	status := resp.Status
	if status == 0 {
		status = model.StatusOf(resp.Body)
	}
	WriteJSON(w, status, resp.Body)
}

// WriteNotFound writes the envelope for an unmatched route.
func WriteNotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, model.Envelope{
		Error:  fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
		Code:   model.ErrNotFound,
		Status: http.StatusNotFound,
	})
}

// WriteMethodNotAllowed writes the envelope for a known path with the wrong method.
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, model.Envelope{
		Error:  fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
		Code:   model.ErrValidation,
		Status: http.StatusMethodNotAllowed,
	})
}

// ReadRequest builds the host-neutral request view. The body is bounded by
// resource.MaxBodyBytes.
func ReadRequest(w http.ResponseWriter, r *http.Request, id string) (resource.Request, error) {
	req := resource.Request{Query: r.URL.Query(), ID: id}
	if r.Body == nil {
		return req, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, resource.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, model.NewValidationError("body", fmt.Sprintf("request body exceeds %d bytes", resource.MaxBodyBytes))
		}
		return req, model.NewTransportError(fmt.Errorf("reading request body: %w", err))
	}
	req.Body = body
	return req, nil
}

// WithSession returns r's context carrying the session from its cookies,
// or r's context unchanged when there is none.
func WithSession(r *http.Request) *http.Request {
	sess := resource.SessionFromCookies(r.Cookies())
	if sess == nil {
		return r
	}
	return r.WithContext(model.WithSession(r.Context(), sess))
}
