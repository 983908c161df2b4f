package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", fmt.Errorf("quote: %w", ErrRateLimited), true},
		{"network transient", ErrNetworkTransient, true},
		{"validation", fmt.Errorf("rug score too high: %w", ErrValidationFailed), false},
		{"risk blocked", ErrRiskBlocked, false},
		{"insufficient balance", ErrInsufficientBalance, false},
		{"budget exhausted", ErrBudgetExhausted, false},
		{"config", ErrConfig, false},
		{"timeout text", errors.New("request timeout after 10s"), true},
		{"connection refused text", errors.New("dial tcp: connection refused"), true},
		{"plain", errors.New("invalid mint"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Configf("missing private key")))
	assert.True(t, IsFatal(fmt.Errorf("startup: %w", ErrInsufficientBalance)))
	assert.False(t, IsFatal(ErrRateLimited))
	assert.False(t, IsFatal(nil))
}

func TestClassify(t *testing.T) {
	// Sentinel-carrying errors pass through untouched.
	wrapped := fmt.Errorf("leg 1: %w", ErrAggregator)
	assert.Equal(t, wrapped, Classify(wrapped))

	// Deadline becomes a transient.
	err := Classify(fmt.Errorf("quote: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrNetworkTransient)

	// HTTP 429 text becomes a rate limit.
	err = Classify(errors.New("unexpected status 429 Too Many Requests"))
	assert.ErrorIs(t, err, ErrRateLimited)

	// Connection reset becomes a transient.
	err = Classify(errors.New("read: connection reset by peer"))
	assert.ErrorIs(t, err, ErrNetworkTransient)

	// Unclassifiable errors are returned as-is.
	plain := errors.New("bad decimals")
	assert.Equal(t, plain, Classify(plain))

	assert.NoError(t, Classify(nil))
}

func TestIsSkip(t *testing.T) {
	assert.True(t, IsSkip(ErrBudgetExhausted))
	assert.True(t, IsSkip(ErrPriceUnavailable))
	assert.True(t, IsSkip(fmt.Errorf("pair fetch: %w", ErrAggregator)))
	assert.True(t, IsSkip(ErrRiskBlocked))
	assert.False(t, IsSkip(ErrConfig))
	assert.False(t, IsSkip(errors.New("other")))
}
