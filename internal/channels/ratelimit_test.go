package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestRateLimiter_AllowUpToCapacity(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(10, 3)
	rl.now = fixedClock(&now)
	rl.lastRefill = now

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("expected Allow() to succeed for request %d", i+1)
		}
	}
	if rl.Allow() {
		t.Fatal("expected Allow() to fail when the bucket is empty")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(10, 2)
	rl.now = fixedClock(&now)
	rl.lastRefill = now

	rl.Allow()
	rl.Allow()

	now = now.Add(100 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("expected one token after 100ms at 10/s")
	}

	now = now.Add(time.Hour)
	if got := rl.Tokens(); got != 2 {
		t.Fatalf("Tokens() = %v, want capacity 2", got)
	}
}

func TestRateLimiter_MinimumCapacity(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	if !rl.Allow() {
		t.Fatal("a zero capacity should be raised to one")
	}
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("expected Wait to block until a token was available")
	}
}

func TestRateLimiter_WaitContextDone(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 50)
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestKeyedRateLimiter_IndependentKeys(t *testing.T) {
	k := NewKeyedRateLimiter(0.001, 1)

	if !k.Get("100").Allow() {
		t.Fatal("first send to chat 100 should pass")
	}
	if k.Get("100").Allow() {
		t.Fatal("second send to chat 100 should be limited")
	}
	if !k.Get("200").Allow() {
		t.Fatal("chat 200 has its own bucket")
	}
	if k.Len() != 2 {
		t.Errorf("Len() = %d, want 2", k.Len())
	}
}

func TestErrorClassification(t *testing.T) {
	err := ErrRateLimit("telegram rate limit exceeded", errors.New("429")).WithContext("chat_id", int64(7))
	if !err.IsRetryable() || !IsRetryable(err) {
		t.Error("rate limit errors are retryable")
	}
	if GetErrorCode(err) != ErrCodeRateLimit {
		t.Errorf("GetErrorCode() = %s", GetErrorCode(err))
	}
	if err.Context["chat_id"] != int64(7) {
		t.Errorf("context = %v", err.Context)
	}
	if err.Error() != "[RATE_LIMIT_ERROR] telegram rate limit exceeded: 429" {
		t.Errorf("Error() = %q", err.Error())
	}

	if IsRetryable(ErrConfig("token is required", nil)) {
		t.Error("config errors are not retryable")
	}
	if GetErrorCode(context.DeadlineExceeded) != ErrCodeTimeout {
		t.Error("deadline errors map to timeout")
	}
	if GetErrorCode(errors.New("boom")) != ErrCodeInternal {
		t.Error("unknown errors map to internal")
	}
}
