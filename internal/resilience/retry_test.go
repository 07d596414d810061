package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(p RetryPolicy) RetryPolicy {
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), noSleep(RetryPolicy{Attempts: 3}), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errBoom, 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), noSleep(RetryPolicy{Attempts: 5}), "op", func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), noSleep(RetryPolicy{Attempts: 2}), "op", func(context.Context) error {
		calls++
		return Transient(errBoom, 429)
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
}

func TestRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{Attempts: 3, BaseDelay: time.Hour}, "op", func(context.Context) error {
		return Transient(errBoom, 500)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryVal(t *testing.T) {
	v, err := RetryVal(context.Background(), noSleep(RetryPolicy{}), "op", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBackoff_Caps(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 4 * time.Second}.withDefaults()
	p.Jitter = 0
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 4*time.Second, p.backoff(10))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errBoom))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", Transient(errBoom, 502))))
	assert.Nil(t, Transient(nil, 500))

	var te *TransientError
	require.True(t, errors.As(Transient(errBoom, 429), &te))
	assert.Equal(t, 429, te.StatusCode)
}

func TestIsTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 501} {
		assert.False(t, IsTransientStatus(code), code)
	}
}
