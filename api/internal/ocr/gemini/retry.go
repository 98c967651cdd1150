package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    300 * time.Millisecond,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
}

func (c RetryConfig) backoff(attempt int, err *Error) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiple
	}
	delay := time.Duration(d)
	// на лимите ждём дольше
	if err != nil && err.Category == "rate_limit" {
		delay *= 3
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Error: ошибка Gemini API с категорией и признаком повторяемости.
type Error struct {
	Err        error
	Category   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gemini [%s] %s (status: %d)", e.Category, e.Message, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

func categorize(err error) *Error {
	if err == nil {
		return nil
	}
	out := &Error{Err: err, Category: "unknown", Message: err.Error()}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		out.StatusCode = apiErr.Code
		switch apiErr.Code {
		case 400:
			out.Category, out.Message = "bad_request", "invalid request format or parameters"
		case 401, 403:
			out.Category, out.Message = "unauthorized", "invalid API key or missing permissions"
		case 404:
			out.Category, out.Message = "not_found", "model not found"
		case 413:
			out.Category, out.Message = "payload_too_large", "image too large"
		case 429:
			out.Category, out.Message, out.Retryable = "rate_limit", "rate limit exceeded", true
		case 500, 502, 503, 504:
			out.Category, out.Message, out.Retryable = "server_error", fmt.Sprintf("server error %d", apiErr.Code), true
		default:
			out.Category = "api_error"
			out.Message = apiErr.Message
			out.Retryable = apiErr.Code >= 500
		}
		return out
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Category, out.Message, out.Retryable = "timeout", "request timeout", true
		return out
	case errors.Is(err, context.Canceled):
		out.Category, out.Message = "canceled", "request canceled"
		return out
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"):
		out.Category, out.Message = "quota_exceeded", "API quota exceeded"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		out.Category, out.Retryable = "timeout", true
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		out.Category, out.Retryable = "network_error", true
	}
	return out
}
