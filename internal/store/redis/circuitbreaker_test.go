package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errFail })
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.Equal(t, "closed", cb.CurrentState().String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errFail }), errFail)
	}
	assert.Equal(t, StateOpen, cb.CurrentState())
	assert.Equal(t, 1, cb.Trips())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	trip(cb, 2)
	require.Equal(t, StateOpen, cb.CurrentState())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	trip(cb, 2)

	time.Sleep(60 * time.Millisecond)
	cb.Execute(func() error { return errFail })
	assert.Equal(t, StateOpen, cb.CurrentState())
	assert.Equal(t, 2, cb.Trips())
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	trip(cb, 1)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(func() error { <-release; return nil })
	}()
	require.Eventually(t, func() bool { return cb.CurrentState() == StateHalfOpen }, time.Second, time.Millisecond)

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	trip(cb, 2)
	cb.Execute(func() error { return nil })
	trip(cb, 2)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.IsFailure = func(err error) bool { return !errors.Is(err, ErrCacheMiss) }

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return ErrCacheMiss }), ErrCacheMiss)
	}
	assert.Equal(t, StateClosed, cb.CurrentState())

	trip(cb, 1)
	assert.Equal(t, StateOpen, cb.CurrentState())
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker(1, 50*time.Millisecond)
	cb.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	trip(cb, 1)
	assert.Equal(t, []State{StateOpen}, transitions)

	time.Sleep(60 * time.Millisecond)
	cb.Execute(func() error { return nil })
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}
