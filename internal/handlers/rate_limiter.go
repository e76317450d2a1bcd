package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultLimiterIdle = 10 * time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

// tokenBucketLimiter keeps one token bucket per client key.
type tokenBucketLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	clock func() time.Time
	mu    sync.Mutex
	store map[string]*bucketEntry
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenBucketLimiter(perMinute, burst int, clock func() time.Time) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	if clock == nil {
		clock = time.Now
	}
	return &tokenBucketLimiter{
		limit: rate.Limit(float64(perMinute) / 60),
		burst: burst,
		idle:  defaultLimiterIdle,
		clock: clock,
		store: make(map[string]*bucketEntry),
	}
}

func (l *tokenBucketLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok {
		l.pruneIdleLocked(now)
		entry = &bucketEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.store[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *tokenBucketLimiter) pruneIdleLocked(now time.Time) {
	for key, entry := range l.store {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.store, key)
		}
	}
}

// clientKey returns the caller IP. RemoteAddr is already rewritten by middleware.RealIP.
func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// throttle rejects callers over their budget using reject to write the response.
func throttle(limiter rateLimiter, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "60")
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
