// Package ratelimit adapts the teacher's infrastructure/ratelimit token
// bucket (golang.org/x/time/rate) into a per-session limiter keyed by
// session token, applied by DISP ahead of AUTH resolution.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the per-session token bucket.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig matches the server's configured defaults.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 50, Burst: 100}
}

// Limiter tracks one token bucket per session key. Buckets are removed only
// by Sweep.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*entry
}

type entry struct {
	limiter *rate.Limiter
	lastHit time.Time
}

// New builds a session-keyed limiter.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*entry)}
}

// Allow reports whether key (a session token, or a remote address for
// unauthenticated requests) may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.buckets[key] = e
	}
	e.lastHit = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Sweep removes buckets untouched since before cutoff. The server does not
// call it on any schedule, so without a caller buckets accumulate for the
// lifetime of the process.
func (l *Limiter) Sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.buckets {
		if e.lastHit.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}
