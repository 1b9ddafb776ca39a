package server

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("key-1") {
			t.Fatalf("request %d must be allowed", i)
		}
	}
	if limiter.Allow("key-1") {
		t.Fatalf("request over the limit must be denied")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	limiter := newRateLimiter(1, time.Minute)

	if !limiter.Allow("key-a") {
		t.Fatalf("first key must be allowed")
	}
	if !limiter.Allow("key-b") {
		t.Fatalf("a different key has its own budget")
	}
	if limiter.Allow("key-a") {
		t.Fatalf("exhausted key must be denied")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	limiter := newRateLimiter(1, 10*time.Millisecond)

	if !limiter.Allow("key-1") {
		t.Fatalf("first request must be allowed")
	}
	if limiter.Allow("key-1") {
		t.Fatalf("second request in the window must be denied")
	}

	time.Sleep(25 * time.Millisecond)
	if !limiter.Allow("key-1") {
		t.Fatalf("a new window grants a new budget")
	}
}

func TestRateLimiterRejectsEmptyKey(t *testing.T) {
	limiter := newRateLimiter(10, time.Minute)
	if limiter.Allow("") {
		t.Fatalf("empty keys must never be allowed")
	}
}
