package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryPolicy defines backoff behavior for starting a provider stream.
// Mid-stream failures are never resumed; only initiation retries.
type RetryPolicy struct {
	MaxRetries   int           // maximum retry attempts (0 = no retries)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // delay cap
	Multiplier   float64       // exponential backoff multiplier
	Jitter       bool          // add 0-20% random variation to delays
}

// DefaultRetryPolicy returns the retry behavior used when the config leaves
// it zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d += rand.Float64() * 0.2 * d
	}
	return time.Duration(d)
}

// retryExhaustedError marks a provider failure that survived the full retry
// budget.
type retryExhaustedError struct {
	err      error
	attempts int
}

func (e *retryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.attempts, e.err)
}

func (e *retryExhaustedError) Unwrap() error { return e.err }

// IsRetryExhausted reports whether err means the provider stayed down past
// the retry budget.
func IsRetryExhausted(err error) bool {
	var re *retryExhaustedError
	return errors.As(err, &re)
}

// retryable classifies a provider error by message. Rate limits, server
// errors, and network failures are worth another attempt; auth errors, bad
// requests, and anything unrecognized are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, s := range []string{
		"401", "403", "unauthorized", "forbidden", "invalid api key",
		"400", "bad request", "invalid request", "malformed",
		"402", "quota", "billing",
	} {
		if strings.Contains(msg, s) {
			return false
		}
	}

	for _, s := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "connection reset", "connection refused", "no such host",
		"network", "temporary failure",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
