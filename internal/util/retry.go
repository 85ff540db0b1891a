package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Backoff is a bounded exponential retry schedule. The delay before retry n
// (n starting at 1) is Base*2^(n-1), capped at Max, with the upper half
// randomized.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultBackoff is used for calls to external classification and embedding
// services.
var DefaultBackoff = Backoff{
	MaxAttempts: 3,
	Base:        500 * time.Millisecond,
	Max:         10 * time.Second,
}

// Delay returns the wait before the given retry.
func (b Backoff) Delay(retry int) time.Duration {
	if b.Base <= 0 || retry <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)+1))
}

// RetryWithBackoff calls fn until it succeeds, returns an error that
// retriable rejects, or the schedule runs out of attempts. fn receives the
// 1-based attempt number. The number of attempts made is returned alongside
// the result. A nil retriable retries every error except context
// cancellation.
func RetryWithBackoff[T any](
	ctx context.Context,
	b Backoff,
	retriable func(error) bool,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, int, error) {
	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, attempt - 1, ctx.Err()
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return zero, attempt, err
		}
		if retriable != nil && !retriable(err) {
			return zero, attempt, err
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleepContext(ctx, b.Delay(attempt)); err != nil {
			return zero, attempt, lastErr
		}
	}
	return zero, maxAttempts, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
