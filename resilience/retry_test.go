package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentgrid/agentgrid/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), func(context.Context) (any, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversFromRetryableError(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, core.NewTimeoutError("op", time.Millisecond)
		}
		return 42, nil
	}, WithMaxAttempts(4), WithDelays(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	sentinel := core.NewValidationError("bad input")
	calls := 0

	_, err := Retry(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, sentinel
	}, WithMaxAttempts(4), WithDelays(time.Millisecond))

	require.Error(t, err)
	assert.Same(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	sentinel := core.NewTimeoutError("op", time.Millisecond)
	calls := 0

	_, err := Retry(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, sentinel
	}, WithMaxAttempts(3), WithDelays(time.Millisecond))

	require.Error(t, err)
	assert.Same(t, err, error(sentinel))
	assert.Equal(t, 3, calls)
	// The attempt counter is recorded on the structured error.
	assert.Equal(t, 3, sentinel.Details["attempts"])
}

func TestRetryForeignErrorsNotRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, errors.New("opaque failure")
	}, WithMaxAttempts(4), WithDelays(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, func(context.Context) (any, error) {
		calls++
		return nil, core.NewTimeoutError("op", time.Millisecond)
	}, WithMaxAttempts(10), WithDelays(time.Hour))

	require.Error(t, err)
	assert.Equal(t, core.KindCancelled, core.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestRetryDelayScheduleReusesLastDelay(t *testing.T) {
	var delays []time.Duration
	start := time.Now()
	last := start

	_, err := Retry(context.Background(), func(context.Context) (any, error) {
		now := time.Now()
		delays = append(delays, now.Sub(last))
		last = now
		return nil, core.NewTimeoutError("op", time.Millisecond)
	}, WithMaxAttempts(4), WithDelays(5*time.Millisecond, 10*time.Millisecond))

	require.Error(t, err)
	require.Len(t, delays, 4)
	// Third and fourth attempts both reuse the 10ms tail delay.
	assert.GreaterOrEqual(t, delays[2], 10*time.Millisecond)
	assert.GreaterOrEqual(t, delays[3], 10*time.Millisecond)
}
