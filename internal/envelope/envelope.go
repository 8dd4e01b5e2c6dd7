// Package envelope builds the uniform success and error payloads returned by
// the operation pipeline.
package envelope

import (
	"context"
	"errors"
	"net/http"

	"github.com/pitabwire/odoorest/model"
)

// statusForCode maps error codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrMissingRequiredField: http.StatusBadRequest,
	model.ErrInvalidFieldType:     http.StatusBadRequest,
	model.ErrUnknownParameter:     http.StatusBadRequest,
	model.ErrValidation:           http.StatusBadRequest,
	model.ErrDomain:               http.StatusBadRequest,
	model.ErrNotFound:             http.StatusBadRequest,
	model.ErrAuthentication:       http.StatusUnauthorized,
	model.ErrSessionMissing:       http.StatusUnauthorized,
	model.ErrSessionExpired:       http.StatusUnauthorized,
	model.ErrDisallowedField:      http.StatusForbidden,
	model.ErrAccessDenied:         http.StatusForbidden,
	model.ErrTransport:            http.StatusInternalServerError,
	model.ErrBackendUnavailable:   http.StatusServiceUnavailable,
	model.ErrBackendTimeout:       http.StatusServiceUnavailable,
	model.ErrHook:                 http.StatusInternalServerError,
	model.ErrInternal:             http.StatusInternalServerError,
	model.ErrRateLimited:          http.StatusTooManyRequests,
}

// StatusFor returns the HTTP status for an error code. Unknown codes map to 500.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Success wraps a result in a 200 envelope.
func Success(data any) model.Envelope {
	return model.Envelope{Data: data, Status: http.StatusOK}
}

// Classify converts any error into a *model.Error. Errors that already carry
// a code are returned as-is; context errors map to the timeout and transport
// codes; everything else becomes INTERNAL_ERROR.
func Classify(err error) *model.Error {
	if err == nil {
		return nil
	}
	if me := model.AsError(err); me != nil {
		return me
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewBackendTimeoutError(err)
	case errors.Is(err, context.Canceled):
		return model.NewTransportError(err)
	}
	return model.NewInternalError(err)
}

// FromError builds the error envelope for err. A nil error yields an
// INTERNAL_ERROR envelope rather than a panic.
func FromError(err error) model.Envelope {
	if err == nil {
		err = errors.New("nil error")
	}
	me := Classify(err)
	return model.Envelope{
		Error:  me.Message,
		Code:   me.Code,
		Status: StatusFor(me.Code),
	}
}
