package transfer

import (
	"testing"
	"time"
)

// --- Sliding window rate limiter tests ---

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	rl := newRateLimiter(time.Minute, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d rejected, want allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("request over the limit allowed")
	}
}

func TestRateLimiter_PerIPIsolation(t *testing.T) {
	rl := newRateLimiter(time.Minute, 1)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request of first IP rejected")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("second IP throttled by first IP's bucket")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("first IP allowed past its limit")
	}
}

func TestRateLimiter_WindowPrunes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := newRateLimiter(time.Minute, 2)
	rl.now = func() time.Time { return now }

	rl.Allow("ip")
	now = now.Add(30 * time.Second)
	rl.Allow("ip")
	if rl.Allow("ip") {
		t.Fatal("over-limit request allowed")
	}

	// 61s after the first entry only the 30s one remains, so exactly one
	// more request fits.
	now = now.Add(31 * time.Second)
	if !rl.Allow("ip") {
		t.Fatal("request rejected although the oldest entry aged out")
	}
	if rl.Allow("ip") {
		t.Fatal("second request allowed, want rejected")
	}
	if got := rl.size("ip"); got != 2 {
		t.Errorf("bucket size = %d, want 2 after pruning", got)
	}
}

func TestRateLimiter_RejectionsNotRecorded(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := newRateLimiter(time.Minute, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("ip")
	for i := 0; i < 5; i++ {
		if rl.Allow("ip") {
			t.Fatal("over-limit request allowed")
		}
	}
	if got := rl.size("ip"); got != 1 {
		t.Errorf("bucket size = %d, want 1; rejected requests must not extend the window", got)
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("ip") {
		t.Fatal("request rejected after the window passed")
	}
}
