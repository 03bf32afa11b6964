package ratelimit

import (
	"testing"
	"time"
)

// TestConsumeDenyThenRecover exercises the shape of spec.md §8 Scenario A
// (maxTokens=5, refill=1/s, cost=5): an immediate second call is denied
// with a retryAfterMs hint, and a call issued once enough time has
// elapsed is allowed again.
func TestConsumeDenyThenRecover(t *testing.T) {
	rl := New(Config{MaxTokens: 5, RefillRatePerSecond: 1, DefaultCost: 5})
	t0 := time.Unix(0, 0)

	d := rl.Consume("conn1", "prompt.submit", t0)
	if !d.Allowed {
		t.Fatalf("expected first call allowed, got %+v", d)
	}

	d = rl.Consume("conn1", "prompt.submit", t0.Add(100*time.Millisecond))
	if d.Allowed {
		t.Fatal("expected second call denied")
	}
	if d.RetryAfterMs <= 0 {
		t.Fatalf("expected positive retryAfterMs hint, got %d", d.RetryAfterMs)
	}

	recoverAt := t0.Add(100*time.Millisecond + time.Duration(d.RetryAfterMs)*time.Millisecond)
	d = rl.Consume("conn1", "prompt.submit", recoverAt)
	if !d.Allowed {
		t.Fatalf("expected call allowed once tokens recover, got %+v", d)
	}
}

func TestDeniedCallDoesNotDeductTokens(t *testing.T) {
	rl := New(Config{MaxTokens: 5, RefillRatePerSecond: 1, DefaultCost: 5})
	t0 := time.Unix(100, 0)

	rl.Consume("conn1", "m", t0) // consumes all 5 tokens
	firstDeny := rl.Consume("conn1", "m", t0.Add(10*time.Millisecond))
	secondDeny := rl.Consume("conn1", "m", t0.Add(20*time.Millisecond))
	if firstDeny.Allowed || secondDeny.Allowed {
		t.Fatal("expected both calls denied")
	}
	// Decisions depend only on the supplied timestamps: the later denial
	// is 10ms closer to the next refill, so its retryAfterMs is no larger.
	if firstDeny.RetryAfterMs < secondDeny.RetryAfterMs {
		t.Fatalf("expected retryAfterMs to shrink as time passes, got %d then %d", firstDeny.RetryAfterMs, secondDeny.RetryAfterMs)
	}
}

func TestPerMethodCostOverride(t *testing.T) {
	rl := New(DefaultConfig())
	t0 := time.Unix(0, 0)
	d := rl.Consume("conn1", "prompt.submit", t0) // cost 5, maxTokens 100
	if !d.Allowed {
		t.Fatalf("expected allowed, got %+v", d)
	}
}

func TestForgetDropsBucketState(t *testing.T) {
	rl := New(Config{MaxTokens: 1, RefillRatePerSecond: 1, DefaultCost: 1})
	t0 := time.Unix(0, 0)
	rl.Consume("conn1", "m", t0) // exhausts the single token
	rl.Forget("conn1")
	d := rl.Consume("conn1", "m", t0) // fresh bucket, same instant
	if !d.Allowed {
		t.Fatalf("expected fresh bucket to allow, got %+v", d)
	}
}

func TestCostExceedingBurstIsPermanentlyDenied(t *testing.T) {
	rl := New(Config{MaxTokens: 3, RefillRatePerSecond: 1, DefaultCost: 10})
	d := rl.Consume("conn1", "m", time.Unix(0, 0))
	if d.Allowed {
		t.Fatal("expected denial: cost exceeds burst capacity")
	}
}

func TestIndependentConnectionsHaveIndependentBuckets(t *testing.T) {
	rl := New(Config{MaxTokens: 1, RefillRatePerSecond: 1, DefaultCost: 1})
	t0 := time.Unix(0, 0)
	a := rl.Consume("connA", "m", t0)
	b := rl.Consume("connB", "m", t0)
	if !a.Allowed || !b.Allowed {
		t.Fatalf("expected both connections independently allowed: %+v %+v", a, b)
	}
}
