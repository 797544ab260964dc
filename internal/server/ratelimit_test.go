package server

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	base := time.Now()
	rl.now = func() time.Time { return base }

	for i := 1; i <= 3; i++ {
		if rl.IsBlocked("10.0.0.1") {
			t.Fatalf("blocked after %d failures", i-1)
		}
		if n := rl.RecordFailure("10.0.0.1"); n != i {
			t.Errorf("expected count %d, got %d", i, n)
		}
	}
	if !rl.IsBlocked("10.0.0.1") {
		t.Error("expected block after 3 failures")
	}
	if rl.IsBlocked("10.0.0.2") {
		t.Error("other IPs must not be blocked")
	}

	// The window expires.
	rl.now = func() time.Time { return base.Add(2 * time.Minute) }
	if rl.IsBlocked("10.0.0.1") || rl.FailureCount("10.0.0.1") != 0 {
		t.Error("expected window to expire")
	}
	if n := rl.RecordFailure("10.0.0.1"); n != 1 {
		t.Errorf("expected fresh count, got %d", n)
	}

	rl.cleanup()
	rl.Reset("10.0.0.1")
	if rl.FailureCount("10.0.0.1") != 0 {
		t.Error("expected reset")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	base := time.Now()
	rl.now = func() time.Time { return base }
	rl.RecordFailure("a")
	rl.RecordFailure("b")

	rl.now = func() time.Time { return base.Add(time.Hour) }
	rl.cleanup()

	rl.mu.RLock()
	n := len(rl.failures)
	rl.mu.RUnlock()
	if n != 0 {
		t.Errorf("expected empty map, got %d entries", n)
	}

	rl.Stop()
	rl.Stop()
}
