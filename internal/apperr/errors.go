// Package apperr defines the pipeline's error taxonomy. Every error surfaced to a
// caller carries a Kind and a stable Code; the queue uses the Kind to decide retries.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindTransientInfra Kind = "transient_infra"
	KindPermission     Kind = "permission"
	KindNotFound       Kind = "not_found"
	KindEligibility    Kind = "eligibility"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Kind sentinels, usable with errors.Is.
var (
	ErrValidation     = &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: "validation failed"}
	ErrTransientInfra = &Error{Kind: KindTransientInfra, Code: "TRANSIENT_INFRA_ERROR", Message: "dependency unavailable"}
	ErrPermission     = &Error{Kind: KindPermission, Code: "PERMISSION_DENIED", Message: "permission denied"}
	ErrNotFound       = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "resource not found"}
	ErrEligibility    = &Error{Kind: KindEligibility, Code: "NOT_ELIGIBLE", Message: "not eligible"}
	ErrConflict       = &Error{Kind: KindConflict, Code: "INVALID_STATE", Message: "invalid state"}
)

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Reason is a specific, user-facing explanation (e.g. why a pattern is ineligible).
	Reason string
	// Details is optional structured context returned to API clients.
	Details any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = msg + ": " + e.Reason
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, apperr.ErrNotFound) matches any NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Validation returns a ValidationError.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: fmt.Sprintf(format, args...)}
}

// Transient wraps an infrastructure failure that is safe to retry.
func Transient(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransientInfra, Code: "TRANSIENT_INFRA_ERROR", Message: fmt.Sprintf(format, args...), Err: err}
}

// Permission returns a PermissionError.
func Permission(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Code: "PERMISSION_DENIED", Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a NotFoundError for the named resource.
func NotFound(resource string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf("%s %v not found", resource, id)}
}

// Ineligible returns an EligibilityError carrying the specific reason.
func Ineligible(reason string) *Error {
	return &Error{Kind: KindEligibility, Code: "NOT_ELIGIBLE", Message: "pattern not eligible for promotion", Reason: reason}
}

// Conflict returns a state error describing the current state, so clients can refresh.
func Conflict(current string, format string, args ...any) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    "INVALID_STATE",
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"current_state": current},
	}
}

// Permanent marks err as non-retryable.
func Permanent(err error) *Error {
	return &Error{Kind: KindInternal, Code: "PERMANENT_FAILURE", Message: "permanent failure", Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the queue should retry a job that failed with err.
// Transient and unclassified errors retry; every classified non-transient error does not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	return e.Kind == KindTransientInfra
}
