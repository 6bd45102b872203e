package scheduler

import (
	"testing"
	"time"
)

func TestNextAdvancesToTheFollowingCronTick(t *testing.T) {
	after := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	got, err := next("0 10 * * *", "UTC", after)
	if err != nil {
		t.Fatalf("next returned error: %v", err)
	}
	want := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestNextRejectsInvalidExpression(t *testing.T) {
	if _, err := next("not a cron", "UTC", time.Now()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestNextRejectsUnknownTimezone(t *testing.T) {
	if _, err := next("0 10 * * *", "Nowhere/Imaginary", time.Now()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestRescheduleAfterFailureNeverExceedsNextCronTick(t *testing.T) {
	ranAt := time.Date(2026, 7, 31, 9, 59, 0, 0, time.UTC)
	got := rescheduleAfterFailure("0 10 * * *", "UTC", ranAt, 10)
	cronNext, _ := next("0 10 * * *", "UTC", ranAt)
	if got.After(cronNext) {
		t.Fatalf("retry time %v must not exceed the next cron tick %v", got, cronNext)
	}
}

func TestRescheduleAfterFailureUsesBackoffWhenItLandsBeforeCronTick(t *testing.T) {
	ranAt := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)
	got := rescheduleAfterFailure("0 10 * * *", "UTC", ranAt, 1)
	if !got.After(ranAt) || got.After(ranAt.Add(time.Minute)) {
		t.Fatalf("expected a short backoff-driven retry shortly after ranAt, got %v", got)
	}
}
