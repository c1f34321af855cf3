// Package errors classifies driver, network and filesystem failures into typed AppErrors
// and retries the recoverable ones.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType is the category of an AppError
type ErrorType string

const (
	ErrorTypeConnection   ErrorType = "connection"
	ErrorTypeSQL          ErrorType = "sql"
	ErrorTypeSchema       ErrorType = "schema"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeConstraint   ErrorType = "constraint"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeInterruption ErrorType = "interruption" // caller canceled
	ErrorTypeUnknown      ErrorType = "unknown"
)

const unexpectedMessage = "An unexpected error occurred. Run with --verbose for details."

// AppError is a classified failure. Recoverable errors may succeed when retried.
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	// UserMessage replaces Message when the error is shown to an operator
	UserMessage string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// GetUserMessage returns UserMessage when set, Message otherwise
func (e *AppError) GetUserMessage() string {
	if e.UserMessage == "" {
		return e.Message
	}
	return e.UserMessage
}

func (e *AppError) IsRecoverable() bool { return e.Recoverable }

// WithContext records a key/value pair and returns e for chaining
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[key] = value
	return e
}

func newError(t ErrorType, message string, cause error, recoverable bool) *AppError {
	return &AppError{
		Type:        t,
		Message:     message,
		Cause:       cause,
		Context:     map[string]interface{}{},
		Recoverable: recoverable,
	}
}

// NewAppError returns a permanent error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return newError(errorType, message, cause, false)
}

// NewRecoverableError returns an error worth retrying
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return newError(errorType, message, cause, true)
}

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// IsRecoverableError reports whether err wraps a recoverable AppError
func IsRecoverableError(err error) bool {
	appErr, ok := asAppError(err)
	return ok && appErr.Recoverable
}

// GetErrorType returns the type of the AppError in err's chain, or ErrorTypeUnknown
func GetErrorType(err error) ErrorType {
	if appErr, ok := asAppError(err); ok {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError returns the operator-facing message for err
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := asAppError(err); ok {
		return appErr.GetUserMessage()
	}
	return unexpectedMessage
}

// WrapError describes err with message while keeping its classification
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	source, ok := asAppError(err)
	if !ok {
		source = NewErrorClassifier().ClassifyError(err)
	}

	wrapped := newError(source.Type, message, err, source.Recoverable)
	for k, v := range source.Context {
		wrapped.Context[k] = v
	}
	return wrapped
}
