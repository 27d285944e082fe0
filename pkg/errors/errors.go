package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeInternal             ErrorType = "internal"
	ErrorTypeConfiguration        ErrorType = "configuration"
	ErrorTypeTLSConfiguration     ErrorType = "tls_configuration"
	ErrorTypeStartupConfiguration ErrorType = "startup_configuration"
	ErrorTypePoolExhausted        ErrorType = "pool_exhausted"
)

// Sentinels for errors.Is. Matching is by type only.
var (
	ErrConfiguration        = &Error{Type: ErrorTypeConfiguration}
	ErrTLSConfiguration     = &Error{Type: ErrorTypeTLSConfiguration}
	ErrStartupConfiguration = &Error{Type: ErrorTypeStartupConfiguration}
	ErrPoolExhausted        = &Error{Type: ErrorTypePoolExhausted}
)

// Error represents a structured error with additional context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

// NewError creates a new structured error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Details: make(map[string]any),
	}
}

// Configuration creates a configuration error for invalid builder input
func Configuration(format string, args ...any) *Error {
	return NewError(ErrorTypeConfiguration, fmt.Sprintf(format, args...))
}

// TLSConfiguration creates a TLS configuration error
func TLSConfiguration(message string, cause error) *Error {
	return NewError(ErrorTypeTLSConfiguration, message).WithCause(cause)
}

// StartupConfiguration creates an error for missing or malformed process
// defaults
func StartupConfiguration(format string, args ...any) *Error {
	return NewError(ErrorTypeStartupConfiguration, fmt.Sprintf(format, args...))
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// TypeOf returns the type of the first *Error in err's chain, or "" if none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
