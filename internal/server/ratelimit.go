package server

import (
	"sync"
	"time"
)

// RateLimiter limits FAILED auth key attempts per client IP per time window.
// Successful requests are not counted and reset the failure counter.
//
// Flow:
//  1. Request arrives
//  2. Check IsBlocked() - if true, reject with 429
//  3. Compare the auth key
//  4. If it does not match: call RecordFailure()
//  5. If it matches: call Reset() to clear the failure count
type RateLimiter struct {
	mu       sync.RWMutex
	failures map[string]*rateLimitEntry
	limit    int           // max failures before blocking
	window   time.Duration // time window for counting failures
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	count     int       // number of failed attempts
	resetTime time.Time // when this entry expires
}

// NewRateLimiter creates a rate limiter. Expired entries are dropped every
// window until Stop is called.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// IsBlocked returns true if the IP has exceeded the failure limit.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok || rl.now().After(entry.resetTime) {
		return false
	}
	return entry.count >= rl.limit
}

// RecordFailure records a failed attempt and returns the count within the
// current window.
func (rl *RateLimiter) RecordFailure(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.failures[ip]
	if !ok || now.After(entry.resetTime) {
		rl.failures[ip] = &rateLimitEntry{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return 1
	}

	entry.count++
	return entry.count
}

// Reset clears the failure count for an IP.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// FailureCount returns the current failure count for an IP.
func (rl *RateLimiter) FailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok || rl.now().After(entry.resetTime) {
		return 0
	}
	return entry.count
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, entry := range rl.failures {
		if now.After(entry.resetTime) {
			delete(rl.failures, ip)
		}
	}
}
