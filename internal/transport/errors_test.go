package transport

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestIsRateLimitedByStatus(t *testing.T) {
	err := &APIError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsQuotaExceeded(err))
}

func TestIsRateLimitedByMessage(t *testing.T) {
	err := &APIError{Message: "Rate limit reached for requests"}
	assert.True(t, IsRateLimited(err))
}

func TestQuotaTakesPrecedenceOverRateLimit(t *testing.T) {
	// Quota exhaustion often arrives with the same 429 status.
	err := &APIError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "You exceeded your current quota, please check your plan",
	}
	assert.True(t, IsQuotaExceeded(err))
	assert.False(t, IsRateLimited(err))
}

func TestQuotaByMarker(t *testing.T) {
	for _, msg := range []string{
		"insufficient_quota",
		"monthly quota exceeded",
		"billing hard limit reached",
	} {
		err := &APIError{Message: msg}
		assert.True(t, IsQuotaExceeded(err), msg)
	}
}

func TestOrdinaryErrorsAreNeither(t *testing.T) {
	err := &APIError{StatusCode: http.StatusInternalServerError, Message: "upstream broke"}
	assert.False(t, IsRateLimited(err))
	assert.False(t, IsQuotaExceeded(err))

	plain := errors.New("connection refused")
	assert.False(t, IsRateLimited(plain))
	assert.False(t, IsQuotaExceeded(plain))
}

func TestClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("turn failed: %w", &APIError{StatusCode: http.StatusTooManyRequests, Message: "too many requests"})
	assert.True(t, IsRateLimited(err))
}

func TestTranslateErrorOpenAI(t *testing.T) {
	src := &openai.APIError{HTTPStatusCode: 429, Message: "rate limit"}

	err := translateError(src)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, "rate limit", apiErr.Message)
}

func TestTranslateErrorGeneric(t *testing.T) {
	err := translateError(errors.New("dial tcp: timeout"))
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.StatusCode)
}
