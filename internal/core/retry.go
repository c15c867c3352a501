// Package core holds small cross-cutting helpers (retry policy, service descriptors)
// shared by every component, mirroring the teacher repo's internal/app/core/service
// package.
package core

import (
	"context"
	"time"
)

// RetryPolicy governs retry behavior for Conflict/Transient class errors.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is a single attempt, no backoff.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       1,
	InitialBackoff: 0,
	MaxBackoff:     0,
	Multiplier:     1,
}

// CASRetryPolicy is tuned for the compare-and-swap status transitions TM performs:
// a handful of fast retries, since a Conflict there means another writer just won
// the race and the current reader's view is already stale.
var CASRetryPolicy = RetryPolicy{
	Attempts:       5,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
	Multiplier:     2,
}

// TransientStoragePolicy is tuned for storage connection hiccups.
var TransientStoragePolicy = RetryPolicy{
	Attempts:       4,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2,
}

// Retry executes fn with the provided policy, returning the last error if all
// attempts are exhausted or ctx is cancelled mid-backoff.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := fn(); err != nil {
			if attempt == policy.Attempts {
				return err
			}
			if backoff > 0 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
				next := time.Duration(float64(backoff) * policy.Multiplier)
				if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
					next = policy.MaxBackoff
				}
				backoff = next
			}
			continue
		}
		return nil
	}
	return nil
}
