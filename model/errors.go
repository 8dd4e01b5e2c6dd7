package model

import (
	"errors"
	"fmt"
)

// Validation error codes.
const (
	ErrMissingRequiredField = "MISSING_REQUIRED_FIELD"
	ErrInvalidFieldType     = "INVALID_FIELD_TYPE"
	ErrUnknownParameter     = "UNKNOWN_PARAMETER"
	ErrValidation           = "VALIDATION_ERROR"
)

// Backend and pipeline error codes.
const (
	ErrDomain             = "DOMAIN_ERROR"
	ErrNotFound           = "NOT_FOUND"
	ErrAuthentication     = "AUTHENTICATION_ERROR"
	ErrSessionMissing     = "SESSION_MISSING"
	ErrSessionExpired     = "SESSION_EXPIRED"
	ErrDisallowedField    = "DISALLOWED_FIELD"
	ErrAccessDenied       = "ACCESS_DENIED"
	ErrTransport          = "TRANSPORT_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrHook               = "HOOK_ERROR"
	ErrInternal           = "INTERNAL_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
)

// ErrorKind groups error codes into the categories reported to callers.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindDomain
	KindAuthentication
	KindAuthorization
	KindTransport
	KindHook
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDomain:
		return "domain"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindTransport:
		return "transport"
	case KindHook:
		return "hook"
	default:
		return "internal"
	}
}

var kindForCode = map[string]ErrorKind{
	ErrMissingRequiredField: KindValidation,
	ErrInvalidFieldType:     KindValidation,
	ErrUnknownParameter:     KindValidation,
	ErrValidation:           KindValidation,
	ErrDomain:               KindDomain,
	ErrNotFound:             KindDomain,
	ErrAuthentication:       KindAuthentication,
	ErrSessionMissing:       KindAuthentication,
	ErrSessionExpired:       KindAuthentication,
	ErrDisallowedField:      KindAuthorization,
	ErrAccessDenied:         KindAuthorization,
	ErrTransport:            KindTransport,
	ErrBackendUnavailable:   KindTransport,
	ErrBackendTimeout:       KindTransport,
	ErrHook:                 KindHook,
	ErrInternal:             KindInternal,
	ErrRateLimited:          KindTransport,
}

// Error is the error type produced by every stage of the operation pipeline.
// Code identifies the failure, Field names the offending parameter (if any),
// and Err keeps the underlying cause for logging.
type Error struct {
	Code    string
	Message string
	Field   string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the category of the error code.
func (e *Error) Kind() ErrorKind {
	return kindForCode[e.Code]
}

// AsError extracts a *Error from err. It returns nil if err does not wrap one.
func AsError(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return nil
}

// HasCode reports whether err wraps a *Error with the given code.
func HasCode(err error, code string) bool {
	me := AsError(err)
	return me != nil && me.Code == code
}

// NewMissingFieldError returns a MISSING_REQUIRED_FIELD error for the given key.
func NewMissingFieldError(field string) *Error {
	return &Error{
		Code:    ErrMissingRequiredField,
		Message: fmt.Sprintf("parameter %q is required", field),
		Field:   field,
	}
}

// NewInvalidTypeError returns an INVALID_FIELD_TYPE error for the given key.
func NewInvalidTypeError(field, want string) *Error {
	return &Error{
		Code:    ErrInvalidFieldType,
		Message: fmt.Sprintf("parameter %q must be %s", field, want),
		Field:   field,
	}
}

// NewUnknownParameterError returns an UNKNOWN_PARAMETER error.
func NewUnknownParameterError(field string, kind OperationKind) *Error {
	return &Error{
		Code:    ErrUnknownParameter,
		Message: fmt.Sprintf("parameter %q is not accepted by %s", field, kind),
		Field:   field,
	}
}

// NewValidationError returns a generic VALIDATION_ERROR.
func NewValidationError(field, msg string) *Error {
	return &Error{Code: ErrValidation, Message: msg, Field: field}
}

// NewDisallowedFieldError returns a DISALLOWED_FIELD error.
func NewDisallowedFieldError(param, field string) *Error {
	return &Error{
		Code:    ErrDisallowedField,
		Message: fmt.Sprintf("field %q is not allowed", field),
		Field:   param,
	}
}

// NewDisallowedBaseURLError rejects a call routed to a server that is not
// configured.
func NewDisallowedBaseURLError(url string) *Error {
	return &Error{
		Code:    ErrDisallowedField,
		Message: fmt.Sprintf("base_url %q is not an allowed backend server", url),
		Field:   KeyBaseURL,
	}
}

// NewDomainError returns a DOMAIN_ERROR carrying the backend's message.
func NewDomainError(msg string) *Error {
	return &Error{Code: ErrDomain, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *Error {
	return &Error{Code: ErrNotFound, Message: msg}
}

// NewAuthenticationError returns an AUTHENTICATION_ERROR.
func NewAuthenticationError(msg string) *Error {
	return &Error{Code: ErrAuthentication, Message: msg}
}

// NewSessionMissingError returns a SESSION_MISSING error.
func NewSessionMissingError() *Error {
	return &Error{Code: ErrSessionMissing, Message: "Odoo session not provided."}
}

// NewSessionExpiredError returns a SESSION_EXPIRED error.
func NewSessionExpiredError(msg string) *Error {
	if msg == "" {
		msg = "Session expired"
	}
	return &Error{Code: ErrSessionExpired, Message: msg}
}

// NewAccessDeniedError returns an ACCESS_DENIED error.
func NewAccessDeniedError(msg string) *Error {
	return &Error{Code: ErrAccessDenied, Message: msg}
}

// NewTransportError wraps a network failure.
func NewTransportError(err error) *Error {
	return &Error{Code: ErrTransport, Message: fmt.Sprintf("backend request failed: %v", err), Err: err}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError(err error) *Error {
	return &Error{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
		Err:     err,
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError(err error) *Error {
	return &Error{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
		Err:     err,
	}
}

// NewHookError wraps a failure raised by a caller-supplied hook.
func NewHookError(hook string, err error) *Error {
	return &Error{
		Code:    ErrHook,
		Message: fmt.Sprintf("hook %s failed: %v", hook, err),
		Err:     err,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError(err error) *Error {
	return &Error{
		Code:    ErrInternal,
		Message: "An unexpected error occurred",
		Err:     err,
	}
}

// NewRateLimitedError returns a RATE_LIMITED error. It is produced by the
// hosts before a request reaches the pipeline.
func NewRateLimitedError() *Error {
	return &Error{Code: ErrRateLimited, Message: "Too many requests"}
}
