package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrUnknownProvider  = errors.New("provider: unknown provider")
	ErrNotSupported     = errors.New("provider: operation not supported")
	ErrInvalidSignature = errors.New("provider: invalid webhook signature")
	ErrMalformedPayload = errors.New("provider: malformed webhook payload")
)

// Error is a failed gateway call: the gateway was unreachable or answered
// with an error status.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: %s: %d %s", e.Provider, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimitError is returned when the gateway throttled the request.
// It is never retried internally.
type RateLimitError struct {
	Provider   string
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s: %s: rate limited, retry after %s", e.Provider, e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s: %s: rate limited", e.Provider, e.Op)
}

// IsRateLimited reports whether err is a gateway rate limit.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsProviderError reports whether err came from a gateway call.
func IsProviderError(err error) bool {
	var pe *Error
	return errors.As(err, &pe) || IsRateLimited(err)
}

// StatusCode returns the gateway HTTP status carried by err, 0 if none.
func StatusCode(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	if IsRateLimited(err) {
		return http.StatusTooManyRequests
	}
	return 0
}
