package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for retrieval and memory operations.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates authentication failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the requested memory does not exist for the user.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeEmbeddingUnavailable indicates the embedding provider call failed
	// or returned no vector.
	ErrCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	// ErrCodeIndexUnavailable indicates the vector index is not provisioned
	// or unreachable.
	ErrCodeIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"
	// ErrCodeUpstreamFailure indicates an unexpected error from an external collaborator.
	ErrCodeUpstreamFailure ErrorCode = "UPSTREAM_FAILURE"
)

// ServiceError represents a structured error for service operations.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
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
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *ServiceError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeUnauthorized, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeNotFound, Message: msg}
}

// EmbeddingUnavailable creates an embedding unavailable error.
func EmbeddingUnavailable(cause error) *ServiceError {
	return &ServiceError{Code: ErrCodeEmbeddingUnavailable, Message: "embedding provider unavailable", Cause: cause}
}

// IndexUnavailable creates an index unavailable error.
func IndexUnavailable(cause error) *ServiceError {
	return &ServiceError{Code: ErrCodeIndexUnavailable, Message: "vector index unavailable", Cause: cause}
}

// UpstreamFailure creates an upstream failure error.
func UpstreamFailure(msg string, cause error) *ServiceError {
	return &ServiceError{Code: ErrCodeUpstreamFailure, Message: msg, Cause: cause}
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
