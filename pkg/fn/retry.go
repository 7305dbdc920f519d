package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable reports whether a failure is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep with the 1-based attempt
	// that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (o RetryOpts) backoff(attempt int) time.Duration {
	wait := o.InitialWait
	for i := 0; i < attempt && wait < o.MaxWait; i++ {
		wait *= 2
	}
	if wait > o.MaxWait {
		wait = o.MaxWait
	}
	if o.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		if wait > o.MaxWait {
			wait = o.MaxWait
		}
	}
	return wait
}

// Retry calls f until it succeeds, MaxAttempts is reached, the failure is
// not Retryable, or ctx ends. Waits double from InitialWait up to MaxWait.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	var result Result[T]
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		_, err := result.Unwrap()
		if result.IsOk() || attempt == opts.MaxAttempts-1 {
			return result
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return result
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}

		wait := opts.backoff(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Err[T](ctx.Err())
		case <-timer.C:
		}
	}
	return result
}

// RetryStage wraps a Stage with retry logic.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
