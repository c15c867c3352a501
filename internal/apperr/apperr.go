// Package apperr implements the error taxonomy every RPC boundary in the server maps
// against: a small closed set of error kinds, each with a fixed HTTP status and retry
// policy, rather than ad-hoc sentinel errors per package.
package apperr

import (
	"fmt"
	"net/http"
)

// Kind is one of the seven error kinds the design distinguishes.
type Kind string

const (
	// InputMalformed: caller's arguments violate schema or constraints. Not retried.
	InputMalformed Kind = "InputMalformed"
	// Unauthorized: identity lacks permission. Not retried.
	Unauthorized Kind = "Unauthorized"
	// NotFound: referenced token/endpoint/plan absent. Not retried.
	NotFound Kind = "NotFound"
	// Conflict: optimistic-concurrency failure on a status transition. Retried
	// internally up to a small bound, then surfaced.
	Conflict Kind = "Conflict"
	// Backpressure: queue full. Surfaced; caller may retry.
	Backpressure Kind = "Backpressure"
	// Transient: storage connection hiccup. Retried internally with backoff.
	Transient Kind = "Transient"
	// Fatal: programmer error, corruption, or misconfiguration.
	Fatal Kind = "Fatal"
)

// Error is the structured error payload carried across every RPC boundary.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails attaches structured details to the error, returning a copy.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Is supports errors.Is comparisons against a Kind sentinel created via New.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// HTTPStatus maps a Kind to the stable HTTP-level status spec.md §7 requires.
func (k Kind) HTTPStatus() int {
	switch k {
	case InputMalformed:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Backpressure:
		return http.StatusTooManyRequests
	case Transient, Fatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, defaulting to Fatal.
func KindOf(err error) Kind {
	var appErr *Error
	if as(err, &appErr) {
		return appErr.Kind
	}
	return Fatal
}

// as is a tiny local errors.As to avoid importing errors just for this one call site
// in a package that otherwise has no wrapped-error chains to walk.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Unauthorizedf(format string, args ...any) *Error {
	return New(Unauthorized, fmt.Sprintf(format, args...))
}

func InputMalformedf(format string, args ...any) *Error {
	return New(InputMalformed, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func Backpressuref(format string, args ...any) *Error {
	return New(Backpressure, fmt.Sprintf(format, args...))
}

func Transientf(format string, args ...any) *Error {
	return New(Transient, fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...any) *Error {
	return New(Fatal, fmt.Sprintf(format, args...))
}
