package mctp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a high-level error category for transport failures.
type ErrorCode string

const (
	ErrCodeBusy          ErrorCode = "transmit queue full"
	ErrCodeTimeout       ErrorCode = "timed out"
	ErrCodeActionFailed  ErrorCode = "request failed"
	ErrCodeTransport     ErrorCode = "transport failure"
	ErrCodeStartup       ErrorCode = "startup failed"
	ErrCodeInvalidParams ErrorCode = "invalid parameters"
	ErrCodeStopped       ErrorCode = "endpoint stopped"
)

// Error is a structured transport error carrying the failed operation, an
// error category, and optional connection context.
type Error struct {
	Op    string    // operation that failed (e.g. "submit", "run")
	Conn  string    // connection id, empty if not applicable
	Code  ErrorCode // high-level category
	Msg   string    // human-readable message
	Inner error     // wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Conn != "" {
		parts = append(parts, fmt.Sprintf("conn=%s", e.Conn))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("mctp: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("mctp: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two *Error values by their Code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// Sentinels for errors.Is comparisons.
var (
	// ErrBusy reports that the submission queue rejected a request.
	ErrBusy = &Error{Code: ErrCodeBusy}

	// ErrTimeout reports that a synchronous submit timed out.
	ErrTimeout = &Error{Code: ErrCodeTimeout}

	// ErrActionFailed reports that a request exhausted its retries or
	// failed in transmission.
	ErrActionFailed = &Error{Code: ErrCodeActionFailed}

	// ErrStopped reports that the endpoint is not running.
	ErrStopped = &Error{Code: ErrCodeStopped}
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps an existing error with transport context.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode checks whether err carries a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
