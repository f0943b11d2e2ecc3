package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/agentgrid/agentgrid/core"
	"github.com/agentgrid/agentgrid/logging"
)

// DefaultDelays is the exponential backoff schedule applied when no explicit
// delays are configured.
var DefaultDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) (any, error)

// RetryOptions configures Retry.
type RetryOptions struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// Delays[i] is slept after the i-th failed attempt. When attempts outrun
	// the slice, the last delay is reused.
	Delays []time.Duration

	// Logger receives per-attempt diagnostics. Defaults to NoOp logger.
	Logger logging.Logger
}

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) func(o *RetryOptions) {
	return func(o *RetryOptions) { o.MaxAttempts = n }
}

// WithDelays overrides the backoff schedule.
func WithDelays(delays ...time.Duration) func(o *RetryOptions) {
	return func(o *RetryOptions) { o.Delays = delays }
}

// WithRetryLogger sets the diagnostic logger.
func WithRetryLogger(l logging.Logger) func(o *RetryOptions) {
	return func(o *RetryOptions) { o.Logger = l }
}

// Retry invokes op until it succeeds, the attempt budget is exhausted, or an
// error is not flagged retryable. Non-retryable errors are returned
// immediately and unchanged; the final attempt's error is likewise returned
// unchanged on exhaustion, with the attempt count recorded in its details
// when it is a structured error.
func Retry(ctx context.Context, op Operation, optFns ...func(o *RetryOptions)) (any, error) {
	opts := RetryOptions{
		MaxAttempts: len(DefaultDelays),
		Delays:      DefaultDelays,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if len(opts.Delays) == 0 {
		opts.Delays = DefaultDelays
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		recordAttempt(err, attempt)

		if !core.IsRetryable(err) {
			return nil, err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		delay := opts.Delays[min(attempt-1, len(opts.Delays)-1)]
		opts.Logger.Debug("retrying after failure", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, core.NewCancelledError(ctx.Err())
		}
	}

	return nil, lastErr
}

// recordAttempt annotates structured errors with the attempt counter so
// callers can observe how many tries were consumed.
func recordAttempt(err error, attempt int) {
	var e *core.Error
	if errors.As(err, &e) {
		e.WithDetail("attempts", attempt)
	}
}
