package security

import (
	"fmt"
	"testing"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be within burst", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("expected request beyond burst to be denied")
	}
}

func TestRateLimiterIsolatesIdentifiers(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first identifier should be allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("second identifier should have its own bucket")
	}
}

func TestRateLimiterEvictsLRU(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 2, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c") // evicts "a"

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) != 2 {
		t.Errorf("expected 2 tracked identifiers, got %d", len(rl.limiters))
	}
	if _, exists := rl.limiters["a"]; exists {
		t.Error("expected the least recently used identifier to be evicted")
	}
}

func TestRateLimiterCleanupRemovesIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("host-%d", i))
	}
	rl.Cleanup(0)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) != 0 {
		t.Errorf("expected all idle limiters removed, got %d", len(rl.limiters))
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
