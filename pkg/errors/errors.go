// Package errors provides structured error handling for tabflow.
// Errors carry a code for programmatic handling, an optional cause,
// and key/value context.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound  Code = "E101"
	CodeInvalidFormat Code = "E103"
	CodeMissingColumn Code = "E104"
	CodeEncoding      Code = "E106"

	// Processing errors (2xx)
	CodeParseFailed      Code = "E201"
	CodeValidationFailed Code = "E203"
	CodeMemoryLimit      Code = "E204"
	CodeWorkerFailed     Code = "E205"

	// Output errors (3xx)
	CodeWriteFailed   Code = "E301"
	CodePersistFailed Code = "E302"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"
	CodePanic           Code = "E403"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all tabflow errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message.
// Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *Error {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingColumn creates a missing column error.
func MissingColumn(column string, available []string) *Error {
	return New(CodeMissingColumn, "required column not found").
		WithContext("column", column).
		WithContext("available", available)
}

// WorkerFailed creates a worker failure error.
func WorkerFailed(worker int, err error) *Error {
	return Wrap(err, CodeWorkerFailed, "worker failed").
		WithContext("worker", worker)
}

// Timeout creates a timeout error for an operation.
func Timeout(operation string) *Error {
	return New(CodeTimeout, "operation timed out").
		WithContext("operation", operation)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *Error {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// MemoryLimit creates a resource-exhaustion error with remediation advice.
func MemoryLimit(requested, available int64) *Error {
	return New(CodeMemoryLimit,
		"memory limit exceeded; reduce batch size or use the streaming strategy").
		WithContext("requested", requested).
		WithContext("available", available)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsFatal returns true if the error is unrecoverable for the operation.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePanic, CodeMemoryLimit, CodeTimeout, CodeWorkerFailed:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if retrying the operation may succeed.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodePersistFailed, CodeWriteFailed:
		return true
	default:
		return false
	}
}
