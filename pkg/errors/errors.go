// Package errors carries the service's typed errors and how each code is
// presented over HTTP.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodePaymentAmount Code = "PAYMENT_MISMATCH"
	CodeRateLimit     Code = "RATE_LIMITED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// CodeOrderCreationFailed means money was captured but no order exists yet.
	// The payment reference travels in the details so the client can retry.
	CodeOrderCreationFailed Code = "ORDER_CREATION_FAILED"
)

// Metadata describes how a code is presented to API callers. Codes with
// CallerMessage expose the error's own message instead of PublicMessage.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	CallerMessage  bool
	DetailsAllowed bool
}

// caller-facing codes share a shape: their message is safe to show and they
// are not worth retrying unchanged
func callerError(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, CallerMessage: true, DetailsAllowed: details}
}

func serverError(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, Retryable: true, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    callerError(http.StatusBadRequest, "validation failed", true),
	CodeNotFound:      callerError(http.StatusNotFound, "resource not found", false),
	CodeConflict:      callerError(http.StatusConflict, "conflict detected", false),
	CodeStateConflict: callerError(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:   callerError(http.StatusConflict, "idempotency key reused", true),
	CodePaymentAmount: callerError(http.StatusUnprocessableEntity, "payment does not match the checkout total", true),

	CodeRateLimit:  serverError(http.StatusTooManyRequests, "too many requests", false),
	CodeInternal:   serverError(http.StatusInternalServerError, "internal server error", false),
	CodeDependency: serverError(http.StatusServiceUnavailable, "dependency unavailable", true),
	CodeOrderCreationFailed: serverError(http.StatusBadGateway,
		"payment received but the order could not be created; retry with the same reference", true),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error. All methods are safe on a nil receiver.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err; a nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Errorf is New with a formatted message. %w verbs are not unwrapped.
func Errorf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the caller-visible details in place and returns e.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for typed := As(err); typed != nil; typed = As(typed.cause) {
		if typed.code == code {
			return true
		}
	}
	return false
}
