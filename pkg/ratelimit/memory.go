package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	cleanupInterval = 5 * time.Minute
	bucketIdleTTL   = 10 * time.Minute
)

// MemoryLimiter implements a per-key token bucket held in process memory.
type MemoryLimiter struct {
	capacity   int
	refillRate time.Duration
	now        func() time.Time

	mutex       sync.Mutex
	buckets     map[string]*tokenBucket
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewMemoryLimiter allows perMinute requests per key per minute, with bursts
// up to the same amount.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rl := &MemoryLimiter{
		capacity:    perMinute,
		refillRate:  time.Minute / time.Duration(perMinute),
		now:         time.Now,
		buckets:     make(map[string]*tokenBucket),
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupExpiredBuckets()
	return rl
}

// Allow consumes a token from key's bucket.
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{tokens: rl.capacity, lastRefill: now}
		rl.buckets[key] = bucket
	}
	bucket.lastSeen = now

	// Refill tokens based on time elapsed, keeping the remainder.
	if elapsed := now.Sub(bucket.lastRefill); elapsed >= rl.refillRate {
		add := int(elapsed / rl.refillRate)
		bucket.tokens = min(rl.capacity, bucket.tokens+add)
		bucket.lastRefill = bucket.lastRefill.Add(time.Duration(add) * rl.refillRate)
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return Decision{Allowed: true, Limit: rl.capacity, Remaining: bucket.tokens}, nil
	}

	retry := rl.refillRate - now.Sub(bucket.lastRefill)
	return Decision{Allowed: false, Limit: rl.capacity, RetryAfter: retry}, nil
}

// Stop ends the background cleanup.
func (rl *MemoryLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// cleanupExpiredBuckets removes idle buckets to prevent memory leaks.
func (rl *MemoryLimiter) cleanupExpiredBuckets() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *MemoryLimiter) evictIdle() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	now := rl.now()
	removed := 0
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.lastSeen) > bucketIdleTTL {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}
