package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been
// exhausted without success.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Result holds the outcome of a retry operation.
type Result[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// WithBackoff executes fn with exponential backoff, retrying up to
// maxAttempts times. fn receives the current attempt number (1-indexed).
// Context cancellation is checked between attempts so shutdown stays
// responsive.
func WithBackoff[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (Result[T], error) {
	var result Result[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			if err := ctx.Err(); err != nil {
				return result, err
			}
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}
		result.LastError = err

		if attempt < maxAttempts {
			if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}

// Simple retries fn (no return value) up to maxAttempts times under policy.
func Simple(ctx context.Context, policy Policy, maxAttempts int, fn func() error) error {
	_, err := WithBackoff(ctx, policy, maxAttempts, func(int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
