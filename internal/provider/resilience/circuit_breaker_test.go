package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/provider/resilience"
)

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig("fcm")

	assert.Equal(t, "fcm", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 2*time.Minute, cfg.Interval)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestDefaultIsSuccessful(t *testing.T) {
	assert.True(t, resilience.DefaultIsSuccessful(nil))
	assert.True(t, resilience.DefaultIsSuccessful(context.Canceled))
	assert.True(t, resilience.DefaultIsSuccessful(fmt.Errorf("send: %w", context.Canceled)))
	assert.False(t, resilience.DefaultIsSuccessful(context.DeadlineExceeded))
	assert.False(t, resilience.DefaultIsSuccessful(errors.New("503")))
}

func TestNewCircuitBreaker_CancelledCallsDoNotTrip(t *testing.T) {
	cfg := resilience.CircuitBreakerConfig{
		Name: "cancel",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	}
	cb := resilience.NewCircuitBreaker[int](cfg)

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, context.Canceled })
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	_, _ = cb.Execute(func() (int, error) { return 0, errors.New("boom") })
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestNewCircuitBreaker_ReportsTransitions(t *testing.T) {
	var transitions []string
	cb := resilience.NewCircuitBreaker[int](resilience.CircuitBreakerConfig{
		Name: "transitions",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (int, error) { return 0, errors.New("unavailable") })
	}

	assert.Equal(t, []string{"transitions:closed->open"}, transitions)
}
