package channels

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket: bursts up to capacity, refilled at rate
// tokens per second.
type RateLimiter struct {
	rate       float64
	capacity   int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time

	mu sync.Mutex
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.Allow() {
			return nil
		}
		timer := time.NewTimer(r.waitDuration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Tokens returns the currently available tokens.
func (r *RateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// refill must be called with mu held.
func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.lastRefill)
	r.tokens += elapsed.Seconds() * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	r.lastRefill = now
}

func (r *RateLimiter) waitDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 || r.rate <= 0 {
		return time.Millisecond
	}
	wait := time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// KeyedRateLimiter keeps an independent bucket per key, typically a chat
// ID. Buckets are created on first use and dropped after idle.
type KeyedRateLimiter struct {
	rate     float64
	capacity int
	idle     time.Duration

	mu       sync.Mutex
	limiters map[string]*keyedEntry
}

type keyedEntry struct {
	limiter  *RateLimiter
	lastUsed time.Time
}

// NewKeyedRateLimiter creates a per-key limiter.
func NewKeyedRateLimiter(rate float64, capacity int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		rate:     rate,
		capacity: capacity,
		idle:     10 * time.Minute,
		limiters: make(map[string]*keyedEntry),
	}
}

// Get returns the bucket for key.
func (k *KeyedRateLimiter) Get(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	entry, ok := k.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: NewRateLimiter(k.rate, k.capacity)}
		k.limiters[key] = entry
	}
	entry.lastUsed = now

	if len(k.limiters) > 1024 {
		for id, e := range k.limiters {
			if now.Sub(e.lastUsed) > k.idle {
				delete(k.limiters, id)
			}
		}
	}
	return entry.limiter
}

// Wait blocks until key's bucket has a token.
func (k *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return k.Get(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
