package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/errclass"
)

// Options bounds one retried operation. OnRetry fires before each re-attempt
// and is where callers surface "retrying..." feedback.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	OnRetry      func(attempt int, err error)
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:   2,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Do runs op up to MaxRetries+1 times. A failure classified as non-retryable
// is returned immediately; retryable failures wait min(InitialDelay*2^n,
// MaxDelay) between attempts. The delay timer is released when ctx is
// cancelled, and the last error is returned once attempts are exhausted.
//
// Callers must only wrap idempotent or safely repeatable operations.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(opts, attempt-1)
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, lastErr)
			}
			zerolog.Ctx(ctx).Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying operation")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errclass.Classify(err).Retryable {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

func backoffDelay(opts Options, attempt int) time.Duration {
	delay := opts.InitialDelay << uint(attempt)
	if delay > opts.MaxDelay || delay <= 0 {
		return opts.MaxDelay
	}
	return delay
}
