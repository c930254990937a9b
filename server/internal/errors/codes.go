package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for reminder operations.
type ErrorCode string

const (
	// ErrCodeValidation indicates invalid input parameters.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeNotFound indicates the requested record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeUnauthorized indicates the actor may not act on the record.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeAlreadyAcknowledged indicates a repeated acknowledgment.
	ErrCodeAlreadyAcknowledged ErrorCode = "ALREADY_ACKNOWLEDGED"
	// ErrCodeTransientDelivery indicates a retryable delivery failure.
	ErrCodeTransientDelivery ErrorCode = "TRANSIENT_DELIVERY_FAILURE"
	// ErrCodePermanentDelivery indicates a non-retryable delivery failure.
	ErrCodePermanentDelivery ErrorCode = "PERMANENT_DELIVERY_FAILURE"
	// ErrCodeStorage indicates a store read or write failure.
	ErrCodeStorage ErrorCode = "STORAGE_FAILURE"
)

// ServiceError represents a structured error for reminder operations.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *ServiceError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// Validation creates a validation error.
func Validation(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeValidation, Message: msg}
}

// NotFound creates a not found error.
func NotFound(kind, id string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeUnauthorized, Message: msg}
}

// AlreadyAcknowledged creates an already acknowledged error.
func AlreadyAcknowledged(deliveryUID string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeAlreadyAcknowledged,
		Message: fmt.Sprintf("delivery already acknowledged: %s", deliveryUID),
	}
}

// TransientDelivery creates a retryable delivery error.
func TransientDelivery(msg string, cause error) *ServiceError {
	return &ServiceError{Code: ErrCodeTransientDelivery, Message: msg, Cause: cause}
}

// PermanentDelivery creates a non-retryable delivery error.
func PermanentDelivery(msg string, cause error) *ServiceError {
	return &ServiceError{Code: ErrCodePermanentDelivery, Message: msg, Cause: cause}
}

// Storage creates a storage failure error.
func Storage(msg string, cause error) *ServiceError {
	return &ServiceError{Code: ErrCodeStorage, Message: msg, Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *ServiceError {
	return &ServiceError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if svcErr, ok := err.(*ServiceError); ok {
		return svcErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a ServiceError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if svcErr, ok := err.(*ServiceError); ok {
		return svcErr.Code
	}
	return defaultCode
}

// Retryable reports whether the error is a transient delivery failure.
func Retryable(err error) bool {
	return IsCode(err, ErrCodeTransientDelivery)
}
