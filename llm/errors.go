package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error represents a backend-neutral generation error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	Body        string // Raw response body for non-2xx replies
	Backend     string // ID of the backend that produced the error, if known
	Attempts    int    // Number of attempts made, set on exhausted errors
	ProviderErr error  // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeBackend         ErrorType = "backend"
	ErrorTypeProtocol        ErrorType = "protocol"
	ErrorTypeUnsupported     ErrorType = "unsupported"
	ErrorTypeExhausted       ErrorType = "exhausted"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Backend != "" {
		msg = e.Backend + ": " + msg
	}
	if e.ProviderErr != nil {
		return msg + ": " + e.ProviderErr.Error()
	}
	return msg
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// WithBackend returns a copy of the error attributed to the given backend.
func (e *Error) WithBackend(id string) *Error {
	cp := *e
	cp.Backend = id
	return &cp
}

func hasType(err error, t ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == t
	}
	return false
}

// ErrorTypeOf returns the category of err, or "unknown" for foreign errors.
func ErrorTypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	if IsCanceled(err) {
		return "canceled"
	}
	return "unknown"
}

// IsNetworkError checks if an error is a transport-level failure.
func IsNetworkError(err error) bool { return hasType(err, ErrorTypeNetwork) }

// IsBackendError checks if an error is a non-2xx backend reply, including
// rate limit and request too large replies.
func IsBackendError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeBackend || llmErr.StatusCode >= 400
	}
	return false
}

// IsProtocolError checks if an error is an unparseable or unexpected backend reply.
func IsProtocolError(err error) bool { return hasType(err, ErrorTypeProtocol) }

// IsUnsupportedError checks if an error reports an operation the backend cannot serve.
func IsUnsupportedError(err error) bool { return hasType(err, ErrorTypeUnsupported) }

// IsExhaustedError checks if an error reports that every failover attempt failed.
func IsExhaustedError(err error) bool { return hasType(err, ErrorTypeExhausted) }

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool { return hasType(err, ErrorTypeRateLimit) }

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool { return hasType(err, ErrorTypeRequestTooLarge) }

// IsCanceled reports whether err stems from context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewNetworkError creates an error for connection or transport failures.
func NewNetworkError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewBackendError creates an error for a non-2xx reply. The body is kept verbatim.
func NewBackendError(statusCode int, body string) *Error {
	return &Error{
		Type:       ErrorTypeBackend,
		Message:    fmt.Sprintf("backend returned status %d: %s", statusCode, body),
		Retryable:  true,
		StatusCode: statusCode,
		Body:       body,
	}
}

// NewProtocolError creates an error for a reply that could not be interpreted.
func NewProtocolError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProtocol,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewUnsupportedError creates an error for an operation the backend family does not offer.
func NewUnsupportedError(operation string) *Error {
	return &Error{
		Type:    ErrorTypeUnsupported,
		Message: operation + " is not supported by this backend",
	}
}

// NewExhaustedError creates an error reporting that all attempts failed. It wraps the last failure.
func NewExhaustedError(attempts int, last error) *Error {
	return &Error{
		Type:        ErrorTypeExhausted,
		Message:     fmt.Sprintf("all backends exhausted after %d attempts", attempts),
		Attempts:    attempts,
		ProviderErr: last,
	}
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  429,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   true,
		StatusCode:  413,
		ProviderErr: providerErr,
	}
}

// ClassifyStatus maps a non-2xx status and body to the matching error category.
func ClassifyStatus(statusCode int, body string, retryAfter *time.Duration) *Error {
	switch statusCode {
	case 429:
		e := NewRateLimitError(fmt.Sprintf("rate limited: %s", body), retryAfter, nil)
		e.Body = body
		return e
	case 413:
		e := NewRequestTooLargeError(fmt.Sprintf("request too large: %s", body), nil)
		e.Body = body
		return e
	default:
		return NewBackendError(statusCode, body)
	}
}
