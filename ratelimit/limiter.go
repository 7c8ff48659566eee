// Package ratelimit throttles deliveries per subscription.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per subscription. The burst equals the
// per-second limit, so a bucket starts full.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a delivery to subID may proceed now.
// A perSecond of 0 means unlimited.
func (l *Limiter) Allow(subID string, perSecond int) bool {
	if perSecond <= 0 {
		return true
	}
	return l.bucket(subID, perSecond).Allow()
}

// Wait blocks until a delivery to subID may proceed or ctx is done.
// A perSecond of 0 means unlimited.
func (l *Limiter) Wait(ctx context.Context, subID string, perSecond int) error {
	if perSecond <= 0 {
		return nil
	}
	return l.bucket(subID, perSecond).Wait(ctx)
}

// Reset drops the bucket of subID.
func (l *Limiter) Reset(subID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, subID)
}

// bucket returns the limiter for subID, adjusting it when the configured
// limit changed since it was created.
func (l *Limiter) bucket(subID string, perSecond int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[subID]
	if !ok {
		b = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		l.buckets[subID] = b
		return b
	}
	if b.Burst() != perSecond {
		b.SetLimit(rate.Limit(perSecond))
		b.SetBurst(perSecond)
	}
	return b
}
