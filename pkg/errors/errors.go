package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the store, the API client and the controllers.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHENTICATED"
	CodeAPI          = "API_ERROR"
	CodeConnection   = "CONNECTION_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeNotFound     = "NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
	CodeSuperseded   = "SUPERSEDED"
	CodeInternal     = "INTERNAL_ERROR"
)

// Error represents a typed client error. Status is the HTTP status reported by
// the task API for API_ERROR and the status the companion server answers with
// for every other code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors carrying the same code, so errors.Is(err, ErrTimeout)
// holds for clones and wraps of ErrTimeout.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors.
var (
	ErrValidation      = New(CodeValidation, http.StatusBadRequest, "validation failed")
	ErrUnauthenticated = New(CodeUnauthorized, http.StatusUnauthorized, "not signed in")
	ErrConnection      = New(CodeConnection, http.StatusBadGateway, "could not reach the server")
	ErrTimeout         = New(CodeTimeout, http.StatusGatewayTimeout, "the server took too long to respond")
	ErrNotFound        = New(CodeNotFound, http.StatusNotFound, "resource not found")
	ErrForbidden       = New(CodeForbidden, http.StatusForbidden, "not available for this role")
	ErrSuperseded      = New(CodeSuperseded, http.StatusConflict, "superseded by a newer request")
	ErrInternal        = New(CodeInternal, http.StatusInternalServerError, "internal error")
)

// API builds an API_ERROR for a non-2xx response.
func API(status int, message string) *Error {
	return &Error{Code: CodeAPI, Status: status, Message: message}
}

// FromError normalises any error into an *Error. Bare context errors map to
// TIMEOUT (deadline) and SUPERSEDED (cancellation).
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrTimeout.Code, ErrTimeout.Status, ErrTimeout.Message)
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrSuperseded.Code, ErrSuperseded.Status, "request cancelled")
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err normalises to the given code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return FromError(err).Code == code
}

// UserMessage renders the single human-readable line shown for a failed
// action. Server-provided details are preferred; internal causes are not
// leaked.
func UserMessage(action string, err error) string {
	if err == nil {
		return ""
	}
	appErr := FromError(err)
	var msg string
	switch appErr.Code {
	case CodeAPI, CodeValidation, CodeNotFound, CodeForbidden:
		msg = appErr.Message
	case CodeUnauthorized:
		msg = "your session has expired, please sign in again"
	case CodeConnection:
		msg = ErrConnection.Message
	case CodeTimeout:
		msg = ErrTimeout.Message
	default:
		msg = "something went wrong"
	}
	if action == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", action, msg)
}
