package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastRetrier(opts ...Option) *Retrier {
	base := []Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}
	return New(append(base, opts...)...)
}

func TestRetrier_RetriesMarkedErrors(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errTransient)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ReturnsUnwrappedLastError(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(2)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errTransient)
	})

	assert.Equal(t, 2, calls)
	assert.Same(t, errTransient, err)
}

func TestRetrier_UnmarkedErrorsAreFinal(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := fastRetrier().Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err)
}

func TestRetrier_RetryIfAndPermanent(t *testing.T) {
	calls := 0
	r := fastRetrier(WithMaxAttempts(5), WithRetryIf(func(err error) bool { return errors.Is(err, errTransient) }))

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 2 {
			return Permanent(errTransient)
		}
		return errTransient
	})

	assert.Equal(t, 2, calls)
	assert.Same(t, errTransient, err)
}

func TestRetrier_WaitsOnClock(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var delays []time.Duration
	r := New(
		WithClock(clk),
		WithMaxAttempts(2),
		WithInitialDelay(time.Minute),
		WithJitter(0),
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }),
	)

	done := make(chan error, 1)
	calls := 0
	go func() {
		done <- r.Do(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return Retryable(errTransient)
			}
			return nil
		})
	}()

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	require.NoError(t, <-done)
	assert.Equal(t, []time.Duration{time.Minute}, delays)
}

func TestRetrier_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastRetrier().Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	got, err := DoWithData(context.Background(), fastRetrier(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errTransient)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestStoreRetrier_UsesClassifier(t *testing.T) {
	r := StoreRetrier(func(err error) bool { return errors.Is(err, errTransient) })
	cfg := r.Config()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.RetryIf(errTransient))
	assert.False(t, cfg.RetryIf(errors.New("other")))
}
