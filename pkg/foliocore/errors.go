package foliocore

import (
	"errors"
	"fmt"
)

// ErrorCode defines error classification codes for structured error handling.
type ErrorCode string

// Error codes for different error categories. Validation covers bad field
// values and broken arithmetic invariants; Referential covers unknown
// account/instrument/node ids, a distinct failure class per the API contract.
const (
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrCodeReferential ErrorCode = "REFERENTIAL_ERROR"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeDuplicate   ErrorCode = "DUPLICATE"
	ErrCodeOversell    ErrorCode = "INSUFFICIENT_POSITION"
	ErrCodeProvider    ErrorCode = "PROVIDER_ERROR"
	ErrCodeDatabase    ErrorCode = "DATABASE_ERROR"
	ErrCodeInternal    ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
)

// Error represents a structured error with classification code. Field is set
// for validation errors that concern a single input field.
type Error struct {
	Code    ErrorCode
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewFieldError creates a validation error tied to one input field.
func NewFieldError(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Field: field, Message: message}
}

// WrapError wraps an existing error with classification code and additional context.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsErrorCode checks if an error matches a specific error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Quote provider failure modes. Rate-limited lookups are retryable by the
// caller; not-found lookups are not.
var (
	ErrProviderRateLimited = errors.New("quote provider rate limited")
	ErrProviderNotFound    = errors.New("quote not found")
)

// ProviderStatusOf classifies a provider error into the wire status values.
func ProviderStatusOf(err error) string {
	switch {
	case err == nil:
		return ProviderStatusSuccess
	case errors.Is(err, ErrProviderRateLimited):
		return ProviderStatusRateLimited
	case errors.Is(err, ErrProviderNotFound):
		return ProviderStatusNotFound
	default:
		return ProviderStatusFailed
	}
}
