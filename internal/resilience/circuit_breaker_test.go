package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour})
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State(), "the breaker must open once failures reach MaxFailures")

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen, "an open breaker must reject calls without invoking fn")
}

func TestCircuitBreakerHalfOpensAfterTimeoutAndCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 5 * time.Millisecond, HalfOpenMax: 2})
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State(), "a successful half-open probe must close the breaker")
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 5 * time.Millisecond, HalfOpenMax: 2})
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	time.Sleep(10 * time.Millisecond)

	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State(), "any half-open failure must reopen the breaker")
}

func TestCircuitBreakerHalfOpenRejectsBeyondMax(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 5 * time.Millisecond, HalfOpenMax: 1})
	boom := errors.New("boom")
	require.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	time.Sleep(10 * time.Millisecond)

	block := make(chan struct{})
	inFlight := make(chan struct{})
	go cb.Execute(context.Background(), func() error {
		close(inFlight)
		<-block
		return nil
	})
	<-inFlight
	time.Sleep(2 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests, "a second concurrent probe must be rejected once HalfOpenMax in-flight requests are outstanding")
	close(block)
}
