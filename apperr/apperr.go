/*
Package apperr centralizes the error kinds used throughout the quota
engine.

PURPOSE:
  All error kinds in one place for consistency and discoverability, the
  same way generic/errors.go centralizes the teacher's sentinel errors.
  Domain packages return *apperr.Error (or wrap one); the HTTP layer is
  the single place that translates a kind into a status code and a JSON
  envelope (spec.md §7: "all errors bubble to a single HTTP translator").

KINDS:
  validation_error, unauthorized, item_not_found, insufficient_quota,
  conflict, not_implemented, internal — exactly the set spec.md §7 names.

WHY cockroachdb/errors:
  Every kind here can originate deep in a persistence call (a SQLite
  constraint violation, a CAS retry exhaustion) and needs a stack trace at
  the point it was raised, not just at the point it was logged. errors.Wrap
  captures that stack once, at the source.
*/
package apperr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Kind is a stable, client-facing error-kind slug.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "item_not_found"
	KindInsufficientQuota  Kind = "insufficient_quota"
	KindConflict           Kind = "conflict"
	KindNotImplemented     Kind = "not_implemented"
	KindInternal           Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:       http.StatusBadRequest,
	KindUnauthorized:      http.StatusForbidden,
	KindNotFound:          http.StatusNotFound,
	KindInsufficientQuota: http.StatusBadRequest,
	KindConflict:          http.StatusConflict,
	KindNotImplemented:    http.StatusNotImplemented,
	KindInternal:          http.StatusInternalServerError,
}

// Error is the structured error type every package in this service
// returns for expected (non-bug) failure modes.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries kind-specific structured data, e.g.
	// insufficient_quota's requested/granted/shortfall triple.
	Fields map[string]any
	cause  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status code for this error's kind.
func (e *Error) StatusCode() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New builds an *Error of the given kind, capturing a stack trace via
// cockroachdb/errors.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.New(message)}
}

// Wrap builds an *Error of the given kind around an underlying cause,
// preserving the cause's stack for later inspection with errors.Is/As.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

func Validation(message string) *Error    { return New(KindValidation, message) }
func Unauthorized(message string) *Error  { return New(KindUnauthorized, message) }
func NotFound(message string) *Error      { return New(KindNotFound, message) }
func NotImplemented(message string) *Error { return New(KindNotImplemented, message) }
func Internal(cause error, message string) *Error {
	return Wrap(KindInternal, cause, message)
}
func Conflict(message string) *Error { return New(KindConflict, message) }

// InsufficientQuota builds the structured insufficient_quota error spec.md
// §7 requires, carrying requested/granted/shortfall.
func InsufficientQuota(requested, granted, shortfall string) *Error {
	return &Error{
		Kind:    KindInsufficientQuota,
		Message: "requested amount exceeds available quota",
		Fields: map[string]any{
			"requested": requested,
			"granted":   granted,
			"shortfall": shortfall,
		},
		cause: errors.New("insufficient quota"),
	}
}

// As extracts an *Error from err, following cockroachdb/errors' wrap
// chain, mirroring generic/errors.go's IsRetryable/IsClientError helpers.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err is a conflict that a bounded retry loop
// may resolve (spec.md §7: "retries for conflict are bounded").
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindConflict
}
