// Package apierr defines the error kinds shared across every HTTP-facing
// operation and translates them to the JSON error envelope and
// HTTP status code used by every service in this repository.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind identifies the category of an API-facing error.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindUnavailable   Kind = "UNAVAILABLE"
	KindInternal      Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindValidation:    http.StatusBadRequest,
	KindAuthorization: http.StatusForbidden,
	KindNotFound:      http.StatusNotFound,
	KindConflict:      http.StatusConflict,
	KindRateLimited:    http.StatusTooManyRequests,
	KindUnavailable:   http.StatusServiceUnavailable,
	KindInternal:      http.StatusInternalServerError,
}

// Error is the single error type surfaced by every core's public
// operations. Code is a short machine-readable identifier distinct from
// Kind (e.g. "SEAT_CONTENDED" with Kind=KindConflict).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error of the given kind that also carries the original
// cause for logging (never exposed to the client).
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields and returns the receiver
// for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Validation, Authorization, NotFound, Conflict, RateLimited, Unavailable,
// and Internal are convenience constructors for the seven error kinds.
func Validation(code, message string) *Error    { return New(KindValidation, code, message) }
func Authorization(code, message string) *Error { return New(KindAuthorization, code, message) }
func NotFound(code, message string) *Error      { return New(KindNotFound, code, message) }
func Conflict(code, message string) *Error      { return New(KindConflict, code, message) }
func RateLimited(code, message string) *Error   { return New(KindRateLimited, code, message) }
func Unavailable(code, message string) *Error   { return New(KindUnavailable, code, message) }
func Internal(code, message string, cause error) *Error {
	return Wrap(KindInternal, code, message, cause)
}

// envelope is the wire shape for JSON error responses: {error, message, details?}.
type envelope struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteHTTPError writes err to w as the standard JSON error envelope,
// translating unrecognized errors to a generic 500.
func WriteHTTPError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal("INTERNAL_ERROR", "an internal error occurred", err)
	}

	w.Header().Set("Content-Type", "application/json")
	if apiErr.Kind == KindRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	w.WriteHeader(apiErr.Status())

	code := apiErr.Code
	if code == "" {
		code = string(apiErr.Kind)
	}
	_ = json.NewEncoder(w).Encode(envelope{
		Error:   code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}
