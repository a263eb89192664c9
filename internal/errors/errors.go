package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error for callers deciding whether to retry,
// reject, or surface the failure.
type Code string

const (
	// ErrCodeValidation — malformed or out-of-range input. Never retried.
	ErrCodeValidation Code = "VALIDATION"
	// ErrCodeInvariant — the operation would break a capacity or amount
	// invariant. The message names the invariant.
	ErrCodeInvariant Code = "INVARIANT_VIOLATION"
	// ErrCodeNotFound — the referenced record does not exist.
	ErrCodeNotFound Code = "NOT_FOUND"
	// ErrCodeConflict — the record is in a state that forbids the operation.
	ErrCodeConflict Code = "CONFLICT"
	// ErrCodeTimeout — lock acquisition or bounded wait expired. Safe to
	// retry the whole operation from scratch.
	ErrCodeTimeout Code = "TIMEOUT"
	// ErrCodeExternal — an external capability (signer, scoring, payment
	// rail) failed or was unreachable. Gates treat this as a denial.
	ErrCodeExternal Code = "EXTERNAL_FAILURE"
	// ErrCodeUnauthorized — the actor may not perform the operation.
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	// ErrCodeInternal — unexpected failure (database, marshalling).
	ErrCodeInternal Code = "INTERNAL"
)

// Error is a coded error carrying an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause for
// errors.Is / errors.As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// InvalidInput reports a validation failure for a named field.
func InvalidInput(field, message string) error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// NotFound reports a missing record of the given resource type.
func NotFound(resource, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// CodeOf extracts the code from err, or ErrCodeInternal when err carries
// no code anywhere in its chain.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err (or any wrapped cause) carries the code.
func HasCode(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}
