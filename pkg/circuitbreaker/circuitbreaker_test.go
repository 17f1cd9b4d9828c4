package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var transitions []State
	cb := New("store",
		WithClock(clk),
		WithFailureThreshold(2),
		WithOnStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBackend)
	assert.True(t, cb.IsClosed())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBackend)
	assert.True(t, cb.IsOpen())

	err := cb.Execute(context.Background(), ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := New("store",
		WithClock(clk),
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithTimeout(time.Second),
	)

	_ = cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())

	clk.Advance(time.Second)
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateHalfOpen, cb.State())

	// the finished probe frees its slot for the next one
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.True(t, cb.IsClosed())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := New("store", WithClock(clk), WithFailureThreshold(1), WithTimeout(time.Second))

	_ = cb.Execute(context.Background(), fail)
	clk.Advance(time.Second)
	_ = cb.Execute(context.Background(), fail)

	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)
}

func TestBreaker_IsFailureFiltersErrors(t *testing.T) {
	benign := errors.New("invalid transition")
	cb := New("store",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return errors.Is(err, errBackend) }),
	)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return benign })
	}

	assert.True(t, cb.IsClosed())
	assert.Equal(t, 5, cb.Counts().TotalSuccesses)
}

func TestBreaker_FallbackAndReset(t *testing.T) {
	cb := New("store", WithFailureThreshold(1))
	_ = cb.Execute(context.Background(), fail)

	err := cb.ExecuteWithFallback(context.Background(), ok, func(err error) error {
		return errors.New("fallback: " + err.Error())
	})
	assert.EqualError(t, err, "fallback: circuit breaker is open")

	cb.Reset()
	assert.True(t, cb.IsClosed())
	assert.Equal(t, Counts{}, cb.Counts())
}
