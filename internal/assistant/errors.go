package assistant

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrBusy is returned while another generation is in flight.
	ErrBusy = errors.New("assistant is already generating")

	// ErrDisabled is returned when no endpoint or API key is configured.
	ErrDisabled = errors.New("assistant is not configured")

	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("describe what you want to build")

	// ErrEmptyResponse is returned when the model answers with no code.
	ErrEmptyResponse = errors.New("assistant returned no code")
)

// APIError is a non-2xx answer from the completion endpoint.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("assistant API: HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("assistant API: HTTP %d %s", e.StatusCode, e.Status)
}

// IsRetryable returns true for 5xx errors and 429 (rate limit).
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ModelError is an error object embedded in a 2xx response body.
type ModelError struct {
	Type    string
	Message string
}

func (e *ModelError) Error() string {
	if e.Message != "" {
		return "assistant model error: " + e.Message
	}
	return "assistant model error: " + e.Type
}

// isRetryableError reports whether a failed attempt is worth repeating.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) || errors.Is(err, ErrDisabled) || errors.Is(err, ErrEmptyPrompt) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"temporary failure",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
