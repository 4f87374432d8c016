package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// tokenBucket implements a token-bucket rate limiter for a single client.
type tokenBucket struct {
	rate       float64 // tokens per second
	burst      int     // max burst size
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// newTokenBucket creates a token bucket with the given rate and burst.
func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// allow attempts to consume one token from the bucket. It returns true if the
// request is allowed, or false if the bucket is empty (rate limited).
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	// Refill tokens based on elapsed time.
	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}

	if tb.tokens < 1.0 {
		return false
	}

	tb.tokens -= 1.0
	return true
}

// RateLimiter enforces per-client token-bucket limits keyed by remote IP.
type RateLimiter struct {
	limiters map[string]*tokenBucket
	rate     float64
	burst    int
	enabled  bool
	mu       sync.RWMutex
}

// NewRateLimiter creates a RateLimiter applying rate/burst to every client.
func NewRateLimiter(rate float64, burst int, enabled bool) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*tokenBucket),
		rate:     rate,
		burst:    burst,
		enabled:  enabled,
	}
}

// Middleware returns a chi-compatible middleware enforcing the limit. Clients
// over their allowance receive 429 with a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		bucket := rl.getOrCreateBucket(clientKey(r))
		if !bucket.allow() {
			retryAfter := 1.0 / bucket.rate
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limited"}}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getOrCreateBucket returns the token bucket for a client key, creating one
// if it does not exist yet.
func (rl *RateLimiter) getOrCreateBucket(key string) *tokenBucket {
	rl.mu.RLock()
	bucket, ok := rl.limiters[key]
	rl.mu.RUnlock()

	if ok {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock.
	if bucket, ok = rl.limiters[key]; ok {
		return bucket
	}

	bucket = newTokenBucket(rl.rate, rl.burst)
	rl.limiters[key] = bucket
	return bucket
}

// clientKey extracts the client IP for bucket keying. RealIP middleware runs
// first, so RemoteAddr already reflects X-Forwarded-For when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
