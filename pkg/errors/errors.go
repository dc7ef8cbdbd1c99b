// Package errors provides coded error types for the reslicing toolkit.
//
// Codes separate failures that abort a whole reslice request (missing
// geometry, unsupported transforms) from failures local to one slice
// (uncached source pixels).
//
//	err := errors.New(errors.ErrCodeMissingOrientation, "instance %s has no position", id)
//	if errors.Is(err, errors.ErrCodeMissingOrientation) {
//	    // nothing was published
//	}
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

const (
	// Geometry errors. Fatal for the whole reslice request.
	ErrCodeMissingOrientation   Code = "MISSING_ORIENTATION"
	ErrCodeUnsupportedTransform Code = "UNSUPPORTED_TRANSFORM"

	// Non-fatal conditions, reported through logs and counters.
	ErrCodeDegenerateSpacing   Code = "DEGENERATE_SPACING"
	ErrCodeUncachedSourcePixel Code = "UNCACHED_SOURCE_PIXEL"

	// Lookup errors
	ErrCodeSeriesNotFound Code = "SERIES_NOT_FOUND"
	ErrCodeImageNotFound  Code = "IMAGE_NOT_FOUND"
	ErrCodeUnknownScheme  Code = "UNKNOWN_SCHEME"

	ErrCodeInvalidInput Code = "INVALID_INPUT"

	// Internal invariant violations
	ErrCodeMissingPermuteTable Code = "MISSING_PERMUTE_TABLE"
	ErrCodeInternal            Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, or "" for foreign errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
