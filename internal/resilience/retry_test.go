package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AttemptBound(t *testing.T) {
	t.Parallel()

	for _, maxRetries := range []int{0, 1, 2, 5} {
		var calls int
		err := Do(context.Background(), fastRetry(maxRetries), func(_ context.Context) error {
			calls++
			return NewTransientError(errors.New("always 503"), 503)
		})
		require.Error(t, err)
		assert.Equal(t, maxRetries+1, calls, "maxRetries=%d", maxRetries)
		assert.Equal(t, maxRetries+1, fastRetry(maxRetries).Attempts())
	}
}

func TestDo_FatalError_NoRetry(t *testing.T) {
	t.Parallel()

	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		return NewFatalError(errors.New("not found"), 404)
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseBackoff: time.Second}

	var calls int
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("temporary"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("retry me")
	cfg := fastRetry(2)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }

	var calls int
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	t.Parallel()

	var retries []int
	cfg := fastRetry(2)
	cfg.OnRetry = func(retry int, _ error) { retries = append(retries, retry) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("x"), 500)
	})
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDoVal(t *testing.T) {
	t.Parallel()

	var calls int
	v, err := DoVal(context.Background(), fastRetry(2), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("429"), 429)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = DoVal(context.Background(), fastRetry(0), func(_ context.Context) (string, error) {
		return "partial", NewFatalError(errors.New("bad request"), 400)
	})
	require.Error(t, err)
	assert.Empty(t, v)
}

func TestBackoff_Exponential(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, Backoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, Backoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, Backoff(2, cfg))
	assert.Equal(t, time.Second, Backoff(5, cfg), "capped")
}

func TestBackoff_Jitter(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, JitterFraction: 0.5}
	for range 50 {
		d := Backoff(0, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestFromRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := FromRetryConfig(0, 0, 0, 0)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BaseBackoff)
	assert.Equal(t, 60*time.Second, cfg.MaxBackoff)

	cfg = FromRetryConfig(4, 2*time.Second, 10*time.Second, 0.1)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.BaseBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 0.1, cfg.JitterFraction, 1e-9)

	_, ok := FromCircuitConfig(0, 0)
	assert.False(t, ok)
	cb, ok := FromCircuitConfig(3, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 3, cb.FailureThreshold)
	assert.Equal(t, time.Minute, cb.ResetTimeout)
}
