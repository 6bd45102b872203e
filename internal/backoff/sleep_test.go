package backoff

import (
	"context"
	"testing"
	"time"
)

func TestSleepWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Second)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestSleepWithContextZeroDuration(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRetrySimpleRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Simple(ctx, Aggressive, 3, func() error {
		attempts++
		return context.Canceled
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt before cancellation check, got %d", attempts)
	}
}

func TestWithBackoffSucceedsEventually(t *testing.T) {
	calls := 0
	result, err := WithBackoff(context.Background(), Aggressive, 3, func(attempt int) (int, error) {
		calls++
		if attempt < 3 {
			return 0, context.DeadlineExceeded
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != 42 || calls != 3 {
		t.Fatalf("unexpected result: %+v calls=%d", result, calls)
	}
}

func TestWithBackoffExhausted(t *testing.T) {
	_, err := WithBackoff(context.Background(), Aggressive, 2, func(int) (int, error) {
		return 0, context.DeadlineExceeded
	})
	if err != ErrMaxAttemptsExhausted {
		t.Fatalf("expected ErrMaxAttemptsExhausted, got %v", err)
	}
}
