package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindProvider    Kind = "provider"
	KindTransaction Kind = "transaction"
)

// Error is the service-wide error type. Every error that crosses a component
// boundary carries a kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Transient is meaningful only for KindProvider: a transient provider
	// failure may be retried, a fatal one aborts immediately.
	Transient bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Transaction wraps a storage failure that occurred during an apply pass
// after validation had already succeeded.
func Transaction(err error, message string) *Error {
	return &Error{Kind: KindTransaction, Message: message, Err: err}
}

// ProviderTransient marks a provider failure that is safe to retry.
func ProviderTransient(err error, message string) *Error {
	return &Error{Kind: KindProvider, Message: message, Err: err, Transient: true}
}

// ProviderFatal marks a provider failure that must not be retried.
func ProviderFatal(err error, message string) *Error {
	return &Error{Kind: KindProvider, Message: message, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err is a retryable provider error.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindProvider && e.Transient
}

// HTTPStatus maps an error to the status code the web layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindProvider:
		return http.StatusBadGateway
	case KindTransaction:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
