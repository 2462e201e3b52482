package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:                "model",
		Timeout:             time.Minute,
		ConsecutiveFailures: 2,
	})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := cb.ExecuteWithContext(ctx, func(context.Context) (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err := cb.ExecuteWithContext(ctx, func(context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_CancelledContextSkipsCall(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.ExecuteWithContext(ctx, func(context.Context) (interface{}, error) {
		t.Fatal("should not be called")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerRegistry_OnePerName(t *testing.T) {
	reg := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig(""))
	a := reg.Get("gemini-2.0-flash")
	require.Same(t, a, reg.Get("gemini-2.0-flash"))
	assert.NotSame(t, a, reg.Get("gpt-4o"))
	assert.Len(t, reg.States(), 2)
	assert.Equal(t, "gpt-4o", reg.Get("gpt-4o").Name())
}
