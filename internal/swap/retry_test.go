package swap

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), zerolog.Nop(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: flaky", errs.ErrNetworkTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), zerolog.Nop(), func() error {
		calls++
		return fmt.Errorf("%w: bad mint", errs.ErrValidationFailed)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrValidationFailed))
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxRetries = 2

	calls := 0
	err := WithRetry(context.Background(), cfg, zerolog.Nop(), func() error {
		calls++
		return fmt.Errorf("%w: still down", errs.ErrNetworkTransient)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.True(t, errors.Is(err, errs.ErrNetworkTransient), "the last cause stays in the chain")
}

func TestWithRetry_ContextCancelDuringBackoff(t *testing.T) {
	cfg := fastRetry()
	cfg.InitialBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := WithRetry(ctx, cfg, zerolog.Nop(), func() error {
		return fmt.Errorf("%w: down", errs.ErrNetworkTransient)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
}
