package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is a per-process token bucket per key, used when no Redis is
// configured. A bucket holds limit tokens and refills limit per window.
type LocalLimiter struct {
	limit  rate.Limit
	burst  int
	idle   time.Duration
	now    func() time.Time
	mu     sync.Mutex
	bucket map[string]*localEntry
	sweep  time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter allows limit requests per window per key.
func NewLocalLimiter(limit int, window time.Duration) (*LocalLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &LocalLimiter{
		limit:  rate.Limit(float64(limit) / window.Seconds()),
		burst:  limit,
		idle:   2 * window,
		now:    time.Now,
		bucket: make(map[string]*localEntry),
	}, nil
}

// Allow returns true when the key is within quota.
func (l *LocalLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictIdle(now)
	e, ok := l.bucket[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.bucket[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// evictIdle drops buckets unused for longer than idle; those are full again.
func (l *LocalLimiter) evictIdle(now time.Time) {
	if now.Sub(l.sweep) < l.idle {
		return
	}
	l.sweep = now
	for k, e := range l.bucket {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.bucket, k)
		}
	}
}
