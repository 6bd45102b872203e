package circuit

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3, ResetTimeout: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		if !b.IsCallPermitted() {
			t.Fatalf("expected call permitted on failure %d", i)
		}
		b.RecordFailure()
	}

	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}
	if b.IsCallPermitted() {
		t.Fatal("expected calls rejected while open")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, HalfOpenMaxAttempts: 2, ResetTimeout: time.Millisecond}, nil)

	if !b.IsCallPermitted() {
		t.Fatal("expected first call permitted")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected Open after single failure, got %v", b.State())
	}

	time.Sleep(5 * time.Millisecond)

	if !b.IsCallPermitted() {
		t.Fatal("expected half-open probe permitted after timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen, got %v", b.State())
	}
	b.RecordSuccess()
	if !b.IsCallPermitted() {
		t.Fatal("expected second probe permitted")
	}
	b.RecordSuccess()

	if b.State() != Closed {
		t.Fatalf("expected Closed after enough successes, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, HalfOpenMaxAttempts: 2, ResetTimeout: time.Millisecond}, nil)
	b.IsCallPermitted()
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	b.IsCallPermitted()
	b.RecordFailure()

	if b.State() != Open {
		t.Fatalf("expected Open after half-open failure, got %v", b.State())
	}
}

func TestBreakerHalfOpenAttemptCapRespected(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, HalfOpenMaxAttempts: 1, ResetTimeout: time.Millisecond}, nil)
	b.IsCallPermitted()
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	if !b.IsCallPermitted() {
		t.Fatal("expected first probe permitted")
	}
	if b.IsCallPermitted() {
		t.Fatal("expected second concurrent probe rejected at cap 1")
	}
}

func TestGuardReturnsUpstreamUnavailableWhileOpen(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, ResetTimeout: time.Hour}, nil)
	_ = b.Guard(func() error { return assertErr })
	err := b.Guard(func() error { return nil })
	if err == nil {
		t.Fatal("expected error while breaker open")
	}
}

var assertErr = &testError{}

type testError struct{}

func (*testError) Error() string { return "boom" }
