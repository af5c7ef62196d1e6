package executor

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/tometran/tometran/internal/llm"
)

// RetryPolicy is a pure decision function over (attempt number, error):
// either retry after a delay or give up. Attempt numbers start at 0 for the
// first call, so MaxAttempts=3 means one initial call plus two retries.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy mirrors a conservative exponential backoff: 2s, 4s,
// 8s... capped at a minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
	}
}

// Next reports whether the failed attempt should be retried and after what
// delay. Non-transient errors and exhausted attempt budgets give up.
func (p RetryPolicy) Next(attempt int, err error) (time.Duration, bool) {
	if attempt+1 >= p.MaxAttempts {
		return 0, false
	}
	if !Transient(err) {
		return 0, false
	}
	delay := p.InitialDelay << uint(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}

// Transient reports whether err looks like a transport-level failure worth
// retrying: timeouts, network errors, rate limits, server-side errors, and
// an open circuit breaker (which needs time to half-open again).
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var statusErr *llm.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == 429 || statusErr.Status >= 500
	}

	return false
}
