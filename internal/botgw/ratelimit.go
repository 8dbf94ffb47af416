package botgw

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/convai/dialog-router/internal/config"
)

// tokenBucket implements a simple token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

func newTokenBucket(requestsPerSecond float64, burst int) *tokenBucket {
	now := time.Now()
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: requestsPerSecond,
		lastRefill: now,
		lastAccess: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
	tb.lastAccess = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) LastAccess() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastAccess
}

// RateLimiter enforces per-bot-token request rates on the BotGateway,
// keyed by the token path segment rather than a header-borne API key.
type RateLimiter struct {
	buckets map[string]*tokenBucket
	cfg     config.RateLimitConfig
	mu      sync.RWMutex
}

// NewRateLimiter builds a RateLimiter from config.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &RateLimiter{buckets: make(map[string]*tokenBucket), cfg: cfg}
}

// StartEviction launches a background goroutine that periodically removes
// stale buckets, bounding memory growth across the lifetime of the process.
func (rl *RateLimiter) StartEviction(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.evictStale(maxAge)
			}
		}
	}()
}

func (rl *RateLimiter) evictStale(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for key, bucket := range rl.buckets {
		if bucket.LastAccess().Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("bot rate limiter eviction", "evicted", evicted, "remaining", len(rl.buckets))
	}
}

// Allow consumes a token for key (the bot token), creating its bucket on
// first use.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getBucket(key).Allow()
}

func (rl *RateLimiter) getBucket(key string) *tokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if bucket, exists = rl.buckets[key]; exists {
		return bucket
	}
	bucket = newTokenBucket(rl.cfg.RequestsPerSecond, rl.cfg.Burst)
	rl.buckets[key] = bucket
	return bucket
}

// Wrap enforces the rate limit for the bot token extracted from the
// request path, responding 429 with the bot HTTP API's error envelope when
// exceeded.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromPath(r.URL.Path)
		key := token
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RateLimited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
