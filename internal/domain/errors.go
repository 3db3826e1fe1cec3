// Package domain provides the shared types and canonical error types for the gateway.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeStorage indicates the session store or object store failed.
	ErrorTypeStorage ErrorType = "storage"

	// ErrorTypeRemote indicates the remote agent call failed.
	ErrorTypeRemote ErrorType = "remote"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrNotFound is the sentinel matched by errors.Is for every not_found APIError.
var ErrNotFound = errors.New("not found")

// APIError represents a canonical API error that handlers translate into an
// HTTP status and a JSON body.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"error"`

	// Details carries the underlying cause for storage failures
	Details string `json:"details,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Is reports not_found errors as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Type == ErrorTypeNotFound
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRemote:
		return http.StatusBadGateway
	case ErrorTypeStorage, ErrorTypeServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCause attaches the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// WithDetails sets the details string returned to the client.
func (e *APIError) WithDetails(details string) *APIError {
	e.Details = details
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrNotFoundf creates a not found error.
func ErrNotFoundf(format string, args ...any) *APIError {
	return NewAPIError(ErrorTypeNotFound, fmt.Sprintf(format, args...))
}

// ErrStorage creates a storage error wrapping err.
func ErrStorage(message string, err error) *APIError {
	return NewAPIError(ErrorTypeStorage, message).WithCause(err)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// AsAPIError converts any error into an APIError. Errors that are not already
// APIErrors become server errors carrying err's message.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrServer(err.Error()).WithCause(err)
}
