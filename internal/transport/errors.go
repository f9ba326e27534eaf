package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// APIError is a transport-level failure carrying an optional HTTP-like
// status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport error: %s", e.Message)
}

// quotaMarkers identify permanent resource exhaustion, as opposed to
// ordinary rate limiting.
var quotaMarkers = []string{
	"insufficient_quota",
	"quota exceeded",
	"exceeded your current quota",
	"billing hard limit",
}

var rateLimitMarkers = []string{
	"rate limit",
	"too many requests",
}

// IsQuotaExceeded reports whether the error signals exhausted quota.
// Checked before IsRateLimited: quota errors often arrive with the
// same 429 status.
func IsQuotaExceeded(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether the error is a retryable rate limit.
func IsRateLimited(err error) bool {
	if IsQuotaExceeded(err) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// translateError normalizes client library errors into *APIError.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return &APIError{
			StatusCode: openaiErr.HTTPStatusCode,
			Message:    openaiErr.Message,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		}
	}

	return &APIError{Message: err.Error()}
}
