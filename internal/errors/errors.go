package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Key codec
	ErrCodeInvalidFormat    ErrorCode = "INVALID_FORMAT"
	ErrCodeUnknownProduct   ErrorCode = "UNKNOWN_PRODUCT"
	ErrCodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Activation state
	ErrCodeAlreadyUsed      ErrorCode = "ALREADY_USED"
	ErrCodeAlreadyActivated ErrorCode = "ALREADY_ACTIVATED"
	ErrCodeProductMismatch  ErrorCode = "PRODUCT_MISMATCH"
	ErrCodeAlreadyRevoked   ErrorCode = "ALREADY_REVOKED"
	ErrCodeNotRevoked       ErrorCode = "NOT_REVOKED"
	ErrCodeKeyInUse         ErrorCode = "KEY_IN_USE"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase           ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidFormat(reason string) *AppError {
	return New(ErrCodeInvalidFormat, fmt.Sprintf("Invalid license key format: %s", reason))
}

func UnknownProduct(code string) *AppError {
	return New(ErrCodeUnknownProduct, fmt.Sprintf("Unknown product code: %s", code))
}

func ChecksumMismatch() *AppError {
	return New(ErrCodeChecksumMismatch, "License key is not valid")
}

func AlreadyUsed() *AppError {
	return New(ErrCodeAlreadyUsed, "License key has already been used by another device")
}

func AlreadyActivated() *AppError {
	return New(ErrCodeAlreadyActivated, "This device already has an active license for this product")
}

func ProductMismatch() *AppError {
	return New(ErrCodeProductMismatch, "License key does not match its product")
}

func AlreadyRevoked() *AppError {
	return New(ErrCodeAlreadyRevoked, "License is already revoked")
}

func NotRevoked() *AppError {
	return New(ErrCodeNotRevoked, "License is not revoked")
}

func KeyInUse() *AppError {
	return New(ErrCodeKeyInUse, "Cannot delete a used key")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func ServiceUnavailable(message string) *AppError {
	return New(ErrCodeServiceUnavailable, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
