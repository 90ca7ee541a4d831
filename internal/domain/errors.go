package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID   = "invalid"   // Invalid input (e.g., unknown subscription tier)
	ENOTFOUND  = "not_found" // Record absent
	ERATELIMIT = "rate_limit"
	EINTERNAL  = "internal"
	ESTORAGE   = "storage_unavailable"  // Entitlement store read/write failed
	EUPSTREAM  = "upstream_unavailable" // Generative API failed
	ETIMEOUT   = "upstream_timeout"     // Generative API exceeded its deadline
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "store.get")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
// Infrastructure failures never leak their underlying cause.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case EINTERNAL, ESTORAGE:
			return "An internal error occurred. Please try again later."
		case EUPSTREAM, ETIMEOUT:
			return "The assistant is temporarily unavailable. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// InvalidTier reports a purchase that references an unknown tier id.
func InvalidTier(op, tierID string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: fmt.Sprintf("unknown subscription tier %q", tierID),
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// StorageUnavailable wraps a failed store read or write.
func StorageUnavailable(err error, op string) *Error {
	return &Error{
		Code:    ESTORAGE,
		Op:      op,
		Message: "storage unavailable",
		Err:     err,
	}
}

// UpstreamUnavailable wraps a failed generative API call.
func UpstreamUnavailable(err error, op string) *Error {
	return &Error{
		Code:    EUPSTREAM,
		Op:      op,
		Message: "upstream unavailable",
		Err:     err,
	}
}

// UpstreamTimeout wraps a generative API call that exceeded its deadline.
func UpstreamTimeout(err error, op string) *Error {
	return &Error{
		Code:    ETIMEOUT,
		Op:      op,
		Message: "upstream timed out",
		Err:     err,
	}
}

// RateLimit creates a rate limit error.
func RateLimit(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Too many requests. Please slow down.",
	}
}
