// ABOUTME: Error hierarchy for generation backends.
// ABOUTME: Every type reports IsRetryable so the stage executor can tell transient from fatal failures.

package llm

import (
	"errors"
	"net"
)

// BackendError is the base error type for backend failures.
type BackendError struct {
	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns false for the base BackendError. Subtypes override this.
func (e *BackendError) IsRetryable() bool {
	return false
}

func (e *BackendError) backendFailure() {}

// IsBackendError reports whether err, or anything it wraps, came from a
// generation backend rather than from buddy itself.
func IsBackendError(err error) bool {
	var b interface{ backendFailure() }
	return errors.As(err, &b)
}

// StatusError is an error response from a backend's HTTP API.
type StatusError struct {
	BackendError
	Backend    string
	StatusCode int
	Retryable  bool
}

func (e *StatusError) Error() string     { return e.BackendError.Error() }
func (e *StatusError) Unwrap() error     { return e.BackendError.Unwrap() }
func (e *StatusError) IsRetryable() bool { return e.Retryable }

// AuthenticationError represents a 401 or 403 response. Not retryable.
type AuthenticationError struct {
	StatusError
}

func (e *AuthenticationError) Error() string     { return e.StatusError.Error() }
func (e *AuthenticationError) Unwrap() error     { return e.StatusError.Unwrap() }
func (e *AuthenticationError) IsRetryable() bool { return false }

// InvalidRequestError represents a 400, 404 or 422 response. Not retryable.
type InvalidRequestError struct {
	StatusError
}

func (e *InvalidRequestError) Error() string     { return e.StatusError.Error() }
func (e *InvalidRequestError) Unwrap() error     { return e.StatusError.Unwrap() }
func (e *InvalidRequestError) IsRetryable() bool { return false }

// RateLimitError represents a 429 response. Retryable.
type RateLimitError struct {
	StatusError
}

func (e *RateLimitError) Error() string     { return e.StatusError.Error() }
func (e *RateLimitError) Unwrap() error     { return e.StatusError.Unwrap() }
func (e *RateLimitError) IsRetryable() bool { return true }

// ServerError represents a 5xx response. Retryable.
type ServerError struct {
	StatusError
}

func (e *ServerError) Error() string     { return e.StatusError.Error() }
func (e *ServerError) Unwrap() error     { return e.StatusError.Unwrap() }
func (e *ServerError) IsRetryable() bool { return true }

// NetworkError represents a transport failure before any response arrived. Retryable.
type NetworkError struct {
	BackendError
}

func (e *NetworkError) Error() string     { return e.BackendError.Error() }
func (e *NetworkError) Unwrap() error     { return e.BackendError.Unwrap() }
func (e *NetworkError) IsRetryable() bool { return true }

// ResponseError represents a reply the client could not decode or that did
// not match the API contract. Retryable.
type ResponseError struct {
	BackendError
}

func (e *ResponseError) Error() string     { return e.BackendError.Error() }
func (e *ResponseError) Unwrap() error     { return e.BackendError.Unwrap() }
func (e *ResponseError) IsRetryable() bool { return true }

// ErrorFromStatusCode maps an HTTP status code to the matching error type.
func ErrorFromStatusCode(statusCode int, message, backend string, cause error) error {
	base := StatusError{
		BackendError: BackendError{Message: message, Cause: cause},
		Backend:      backend,
		StatusCode:   statusCode,
	}

	switch {
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		return &InvalidRequestError{StatusError: base}
	case statusCode == 401 || statusCode == 403:
		return &AuthenticationError{StatusError: base}
	case statusCode == 408:
		base.Retryable = true
		return &base
	case statusCode == 429:
		base.Retryable = true
		return &RateLimitError{StatusError: base}
	case statusCode >= 500 && statusCode <= 599:
		base.Retryable = true
		return &ServerError{StatusError: base}
	default:
		// Unknown status codes are treated as retryable (conservative default)
		base.Retryable = true
		return &base
	}
}

// IsNetworkError reports whether err came from the network layer.
func IsNetworkError(err error) bool {
	var netErr net.Error
	var opErr *net.OpError
	return errors.As(err, &netErr) || errors.As(err, &opErr)
}
