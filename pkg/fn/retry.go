package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts shapes the exponential backoff applied between attempts.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry suits slow upstreams like embedding servers: three attempts,
// one second initial backoff, capped at thirty.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// Retry runs f until it succeeds or MaxAttempts is reached, backing off
// exponentially between attempts. Context cancellation cuts the wait short
// and surfaces ctx.Err instead of the last attempt's error.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last Result[T]
	for i := 0; i < attempts; i++ {
		if last = f(ctx); last.IsOk() {
			return last
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(backoff(opts, i)):
		}
	}
	return last
}

// backoff returns the wait before attempt i+2: InitialWait doubled i times,
// optionally jittered to [0.5, 1.5) of the base, never above MaxWait.
func backoff(opts RetryOpts, i int) time.Duration {
	wait := opts.InitialWait << uint(i)
	if wait > opts.MaxWait || wait <= 0 {
		wait = opts.MaxWait
	}
	if opts.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return wait
}

// RetryStage lifts Retry over a Stage so a flaky step can sit inside a
// pipeline composition.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
