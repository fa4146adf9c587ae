// Package fault defines the error taxonomy shared by the repository core.
//
// Every failure that callers are expected to branch on carries a Code:
//
//   - SEQUENCING: an operation was invoked in the wrong state. Always a bug
//     in the caller, never caused by peer input.
//   - VALIDATION: required attributes are missing or malformed. Recoverable;
//     converted into a failed-store outcome at the orchestration boundary.
//   - CONNECTION: the output sink failed.
//   - INTERNAL_CONSISTENCY: an index/storage invariant was violated.
//   - NOT_IMPLEMENTED: the requested combination of options has no defined
//     behavior.
//
// Errors that do not need branching are wrapped with fmt.Errorf("op: %w").
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeSequencing indicates a call made in the wrong state machine state.
	CodeSequencing Code = "SEQUENCING"

	// CodeValidation indicates missing or malformed required attributes.
	CodeValidation Code = "VALIDATION"

	// CodeConnection indicates a failure of the output sink.
	CodeConnection Code = "CONNECTION"

	// CodeInternal indicates a violated index or storage invariant.
	CodeInternal Code = "INTERNAL_CONSISTENCY"

	// CodeNotImplemented indicates an unsupported combination of options.
	CodeNotImplemented Code = "NOT_IMPLEMENTED"

	// CodeParameterOutOfRange indicates an argument outside its domain.
	CodeParameterOutOfRange Code = "PARAMETER_OUT_OF_RANGE"

	// CodeNotFound indicates an unknown resource, job or attachment.
	CodeNotFound Code = "NOT_FOUND"
)

// Error is a categorized failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsSequencing returns true if err is a sequencing error.
func IsSequencing(err error) bool { return Is(err, CodeSequencing) }

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return Is(err, CodeValidation) }

// IsConnection returns true if err is a connection error.
func IsConnection(err error) bool { return Is(err, CodeConnection) }

// IsInternal returns true if err is an internal consistency error.
func IsInternal(err error) bool { return Is(err, CodeInternal) }

// IsNotImplemented returns true if err is a not-implemented error.
func IsNotImplemented(err error) bool { return Is(err, CodeNotImplemented) }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }
