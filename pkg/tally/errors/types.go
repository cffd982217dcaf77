package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Kind names a class of collector response.
type Kind string

// Response kinds.
const (
	KindBadRequest       Kind = "bad_request"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindRateLimited      Kind = "rate_limited"
	KindServerError      Kind = "server_error"
	KindUnexpectedStatus Kind = "unexpected_status"
)

// HTTPError represents a non-success collector response.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string

	// RetryAfter is the server's wait hint for 429 responses, zero if absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Kind classifies the status code.
func (e *HTTPError) Kind() Kind {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return KindBadRequest
	case e.StatusCode == http.StatusUnauthorized:
		return KindUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return KindForbidden
	case e.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case e.StatusCode >= 500 && e.StatusCode <= 599:
		return KindServerError
	default:
		return KindUnexpectedStatus
	}
}

// NetworkError indicates an I/O-level failure talking to the collector.
type NetworkError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// EncodingError indicates a payload could not be built or a response parsed.
type EncodingError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// ValidationError indicates invalid caller input, such as a bad event name.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
