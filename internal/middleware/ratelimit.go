package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/templui/healthsync/internal/ctxkeys"
)

// RateLimiter is a sliding-log limiter keyed by caller. Stale keys are swept
// on access once per window, so no background goroutine is needed.
type RateLimiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a hit for key. When the key is over its limit it returns
// false and how long until the oldest hit leaves the window.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(cutoff)
		rl.lastSweep = now
	}

	recent := trimBefore(rl.hits[key], cutoff)
	if len(recent) >= rl.limit {
		rl.hits[key] = recent
		return false, recent[0].Sub(cutoff)
	}

	rl.hits[key] = append(recent, now)
	return true, 0
}

// Len reports how many keys are currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.hits)
}

func (rl *RateLimiter) sweep(cutoff time.Time) {
	for key, hits := range rl.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(rl.hits, key)
		}
	}
}

// trimBefore drops the leading hits at or before cutoff. Hits are appended in
// time order so the slice stays sorted.
func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// RateLimitWrites limits state-changing API calls per user, or per IP for
// anonymous callers. A non-positive limit disables the check.
func RateLimitWrites(limit int, window time.Duration) func(http.HandlerFunc) http.HandlerFunc {
	if limit <= 0 {
		return func(next http.HandlerFunc) http.HandlerFunc { return next }
	}
	return rateLimit(NewRateLimiter(limit, window))
}

func rateLimit(limiter *RateLimiter) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + getClientIP(r)
			if user := ctxkeys.User(r.Context()); user != nil {
				key = "user:" + user.ID
			}

			ok, wait := limiter.Allow(key)
			if !ok {
				slog.Warn("rate limit exceeded", "key", key, "path", r.URL.Path, "retry_in", wait)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests, please try again later","retryable":true}`))
				return
			}

			next(w, r)
		}
	}
}

// getClientIP prefers proxy headers over the socket address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
