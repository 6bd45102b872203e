package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	cases := []struct {
		name    string
		policy  Policy
		attempt int
		rnd     float64
		want    time.Duration
	}{
		{"first attempt no jitter", Standard, 1, 0, 300 * time.Millisecond},
		{"second attempt doubles", Standard, 2, 0, 600 * time.Millisecond},
		{"clamped to max", Standard, 20, 0, 30000 * time.Millisecond},
		{"full jitter adds jitter*base", Aggressive, 1, 1, 110 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeWithRand(tc.policy, tc.attempt, tc.rnd)
			if got != tc.want {
				t.Errorf("ComputeWithRand(%+v, %d, %v) = %v, want %v", tc.policy, tc.attempt, tc.rnd, got, tc.want)
			}
		})
	}
}

func TestByName(t *testing.T) {
	if ByName("llm") != LLM {
		t.Error("expected llm profile")
	}
	if ByName("unknown") != Standard {
		t.Error("expected fallback to standard profile")
	}
}
