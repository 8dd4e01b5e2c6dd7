package model

import "net/http"

// Envelope is the uniform response payload. Exactly one of Data or Error is
// meaningful: Error is empty on success.
type Envelope struct {
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status"`
}

// OK reports whether the envelope represents a success.
func (e Envelope) OK() bool {
	return e.Error == ""
}

// Response is what the pipeline hands back to a host adapter. Body is either
// an Envelope or the verbatim value returned by a custom_response hook.
// Session is set only by a successful authenticate.
type Response struct {
	Status  int
	Body    any
	Session *Session
}

// StatusOf returns the HTTP status carried by a response body. Envelopes
// carry their own status; any other value is treated as 200.
func StatusOf(body any) int {
	switch v := body.(type) {
	case Envelope:
		if v.Status != 0 {
			return v.Status
		}
	case *Envelope:
		if v != nil && v.Status != 0 {
			return v.Status
		}
	}
	return http.StatusOK
}
