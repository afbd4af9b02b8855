// Package apierr defines the abstract error kinds used at the HTTP boundary
// (spec §7). Core packages return plain wrapped errors; callers that need to
// translate a failure into a status code use errors.As against these types.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the abstract error categories from spec §7.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindQuotaExceeded         Kind = "quota_exceeded"
	KindResourceExhausted     Kind = "resource_exhausted"
	KindActionFailed          Kind = "action_failed"
	KindCircularDependency    Kind = "circular_dependency"
	KindExternalCommandFailed Kind = "external_command_failed"
	KindPayloadAuthFailed     Kind = "payload_auth_failed"
	KindIdempotencyConflict   Kind = "idempotency_conflict"
	KindStateTransitionInvalid Kind = "state_transition_invalid"
	KindNotFound              Kind = "not_found"
)

// statusByKind maps each abstract kind to the HTTP status the boundary
// translator should use. PauseRequired has no entry: it is a control-flow
// signal, not an error (spec §7), and never reaches the HTTP layer as one.
var statusByKind = map[Kind]int{
	KindInvalidInput:           http.StatusBadRequest,
	KindQuotaExceeded:          http.StatusBadRequest,
	KindResourceExhausted:      http.StatusInternalServerError,
	KindActionFailed:           http.StatusInternalServerError,
	KindCircularDependency:     http.StatusInternalServerError,
	KindExternalCommandFailed:  http.StatusInternalServerError,
	KindPayloadAuthFailed:      http.StatusBadRequest,
	KindIdempotencyConflict:    http.StatusOK,
	KindStateTransitionInvalid: http.StatusConflict,
	KindNotFound:               http.StatusNotFound,
}

// Error is a sentinel-ish error carrying one of the abstract kinds plus
// enough detail for the HTTP layer and the audit log to act on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// StatusFor returns the HTTP status for err, defaulting to 500 for errors
// that carry no apierr.Error in their chain.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}
