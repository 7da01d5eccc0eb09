package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"429 too many requests", true},
		{"rate limit exceeded", true},
		{"500 internal server error", true},
		{"502 bad gateway", true},
		{"connection refused", true},
		{"dial tcp: no such host", true},
		{"read tcp: connection reset by peer", true},
		{"401 unauthorized", false},
		{"invalid api key", false},
		{"400 bad request", false},
		{"quota exceeded for this billing period", false},
		{"something entirely different", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(errors.New(tt.msg)))
		})
	}
	assert.False(t, retryable(nil))
}

func TestRetryDelayBackoffAndCap(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 300*time.Millisecond, p.delay(2)) // capped
	assert.Equal(t, 300*time.Millisecond, p.delay(5))
}

func TestRetryDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.delay(0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestIsRetryExhausted(t *testing.T) {
	base := errors.New("503 service unavailable")
	err := &retryExhaustedError{err: base, attempts: 4}

	assert.True(t, IsRetryExhausted(err))
	assert.True(t, IsRetryExhausted(fmt.Errorf("turn failed: %w", err)))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsRetryExhausted(base))
}
