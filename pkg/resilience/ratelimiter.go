package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/wellness-mvp/pkg/fn"
)

var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures a token bucket.
type LimiterOpts struct {
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the maximum number of tokens (bucket capacity).
	Burst int
}

func (o LimiterOpts) newBucket() *rate.Limiter {
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.Rate), o.Burst)
}

// Limiter is a single token bucket.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	return &Limiter{bucket: opts.newBucket()}
}

// Allow checks if a request is allowed (non-blocking).
func (l *Limiter) Allow() bool { return l.bucket.Allow() }

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error { return l.bucket.Wait(ctx) }

// Call executes f if a token is available, otherwise returns ErrRateLimited.
func (l *Limiter) Call(ctx context.Context, f func(context.Context) error) error {
	if !l.Allow() {
		return ErrRateLimited
	}
	return f(ctx)
}

// LimiterStageWait wraps an fn.Stage with rate limiting (blocking, waits for token).
func LimiterStageWait[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}

type keyedEntry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key (user ID, client address).
// Buckets idle for longer than the TTL are dropped on the next sweep.
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	ttl     time.Duration
	entries map[string]*keyedEntry
	sweptAt time.Time
	now     func() time.Time
}

// NewKeyedLimiter creates a per-key limiter. ttl <= 0 means ten minutes.
func NewKeyedLimiter(opts LimiterOpts, ttl time.Duration) *KeyedLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeyedLimiter{
		opts:    opts,
		ttl:     ttl,
		entries: make(map[string]*keyedEntry),
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	now := k.now()
	if now.Sub(k.sweptAt) >= k.ttl {
		for id, e := range k.entries {
			if now.Sub(e.lastSeen) >= k.ttl {
				delete(k.entries, id)
			}
		}
		k.sweptAt = now
	}
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{bucket: k.opts.newBucket()}
		k.entries[key] = e
	}
	e.lastSeen = now
	k.mu.Unlock()
	return e.bucket.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
