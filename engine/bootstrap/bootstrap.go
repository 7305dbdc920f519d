// Package bootstrap creates the vector indices the cache and recommender
// search, once per process.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/wellness-mvp/engine/cache"
	"github.com/WessleyAI/wellness-mvp/engine/recommend"
	"github.com/WessleyAI/wellness-mvp/engine/semantic"
	"github.com/WessleyAI/wellness-mvp/pkg/fn"
)

// ErrNotReady wraps any failure to bring the indices up.
var ErrNotReady = errors.New("bootstrap: indices not ready")

// Indexer creates an index if it is missing.
type Indexer interface {
	EnsureIndex(ctx context.Context, spec semantic.IndexSpec) error
}

// Specs lists every index the service needs for vectors of dims.
func Specs(dims int) []semantic.IndexSpec {
	return []semantic.IndexSpec{cache.Spec(dims), recommend.MealSpec(dims), recommend.WorkoutSpec(dims)}
}

// DefaultRetry bounds attempts per index within one EnsureIndicesReady call.
var DefaultRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
	Retryable: func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	},
}

// Bootstrapper remembers success; a failed run is retried on the next call.
type Bootstrapper struct {
	index  Indexer
	specs  []semantic.IndexSpec
	retry  fn.RetryOpts
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

// New creates a Bootstrapper for the indices in Specs(dims).
func New(index Indexer, dims int, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{index: index, specs: Specs(dims), retry: DefaultRetry, logger: logger}
}

// WithRetry replaces the per-index retry policy.
func (b *Bootstrapper) WithRetry(opts fn.RetryOpts) *Bootstrapper {
	b.retry = opts
	return b
}

// EnsureIndicesReady creates any missing index. Concurrent callers wait for
// the same attempt; after a success later calls return immediately.
func (b *Bootstrapper) EnsureIndicesReady(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}
	for _, spec := range b.specs {
		opts := b.retry
		opts.OnRetry = func(attempt int, err error, wait time.Duration) {
			b.logger.Warn("index bootstrap retry", "index", spec.Name, "attempt", attempt, "wait", wait.String(), "err", err)
		}
		res := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[struct{}] {
			return fn.FromPair(struct{}{}, b.index.EnsureIndex(ctx, spec))
		})
		if _, err := res.Unwrap(); err != nil {
			b.logger.Error("index bootstrap failed", "index", spec.Name, "err", err)
			return fmt.Errorf("%w: ensure %s: %w", ErrNotReady, spec.Name, err)
		}
	}
	b.ready = true
	b.logger.Info("indices ready", "count", len(b.specs))
	return nil
}
