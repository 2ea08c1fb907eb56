package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", nil, nil)
	if !IsRateLimitError(err) {
		t.Error("Expected IsRateLimitError to return true for rate limit error")
	}

	regularErr := NewNetworkError("some error", nil)
	if IsRateLimitError(regularErr) {
		t.Error("Expected IsRateLimitError to return false for non-rate-limit error")
	}
}

func TestIsRequestTooLargeError(t *testing.T) {
	err := NewRequestTooLargeError("request too large", nil)
	if !IsRequestTooLargeError(err) {
		t.Error("Expected IsRequestTooLargeError to return true for request too large error")
	}
	if IsRequestTooLargeError(NewProtocolError("bad json", nil)) {
		t.Error("Expected IsRequestTooLargeError to return false for protocol error")
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(NewRateLimitError("rate limit", nil, nil)) {
		t.Error("Expected rate limit error to be retryable")
	}
	if IsRetryableError(NewUnsupportedError("embedContent")) {
		t.Error("Expected unsupported error to not be retryable")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Error("Expected foreign error to not be retryable")
	}
}

func TestExtractRetryAfter(t *testing.T) {
	retryAfter := 5 * time.Minute
	err := NewRateLimitError("rate limit", &retryAfter, nil)
	extracted := ExtractRetryAfter(err)
	if extracted == nil {
		t.Fatal("Expected non-nil retry after")
	}
	if *extracted != retryAfter {
		t.Errorf("Expected retry after %v, got %v", retryAfter, *extracted)
	}
	if ExtractRetryAfter(errors.New("plain")) != nil {
		t.Error("Expected nil retry after for foreign error")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{429, IsRateLimitError},
		{413, IsRequestTooLargeError},
		{500, IsBackendError},
		{401, IsBackendError},
	}
	for _, tt := range tests {
		err := ClassifyStatus(tt.status, "body text", nil)
		if !tt.check(err) {
			t.Errorf("Status %d classified as %s", tt.status, err.Type)
		}
		if !IsBackendError(err) {
			t.Errorf("Status %d should count as a backend error", tt.status)
		}
		if err.Body != "body text" {
			t.Errorf("Status %d lost body, got %q", tt.status, err.Body)
		}
		if err.StatusCode != tt.status {
			t.Errorf("Expected status %d, got %d", tt.status, err.StatusCode)
		}
	}
}

func TestNewExhaustedError_WrapsLast(t *testing.T) {
	last := NewBackendError(503, "unavailable")
	err := NewExhaustedError(3, last)
	if !IsExhaustedError(err) {
		t.Fatal("Expected exhausted error")
	}
	if err.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", err.Attempts)
	}
	if !errors.Is(err, last) {
		t.Error("Expected exhausted error to wrap the last failure")
	}
}

func TestErrorTypeOf(t *testing.T) {
	if got := ErrorTypeOf(fmt.Errorf("wrapped: %w", NewProtocolError("x", nil))); got != ErrorTypeProtocol {
		t.Errorf("Expected protocol, got %s", got)
	}
	if got := ErrorTypeOf(context.Canceled); got != "canceled" {
		t.Errorf("Expected canceled, got %s", got)
	}
	if got := ErrorTypeOf(errors.New("x")); got != "unknown" {
		t.Errorf("Expected unknown, got %s", got)
	}
}

func TestWithBackend(t *testing.T) {
	base := NewNetworkError("connection refused", nil)
	tagged := base.WithBackend("b1")
	if base.Backend != "" {
		t.Error("WithBackend must not modify the receiver")
	}
	if tagged.Error() != "b1: connection refused" {
		t.Errorf("Unexpected message %q", tagged.Error())
	}
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(fmt.Errorf("op: %w", context.DeadlineExceeded)) {
		t.Error("Expected deadline to count as canceled")
	}
	if IsCanceled(NewNetworkError("x", nil)) {
		t.Error("Expected network error to not count as canceled")
	}
}
