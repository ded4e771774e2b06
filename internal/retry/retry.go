package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second

	maxJitter = time.Second
)

// Options controls WithRetry. Zero values fall back to the defaults above.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means IsTransient.
	Retryable func(error) bool

	// Sleep is overridable for tests.
	Sleep func(context.Context, time.Duration) error
}

func (o Options) normalized() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Retryable == nil {
		o.Retryable = IsTransient
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// WithRetry runs fn, retrying with exponential backoff plus jitter while the
// retryable predicate accepts the error. The last error is always surfaced
// to the caller once retries are exhausted.
func WithRetry(ctx context.Context, opts Options, fn func(context.Context) error) error {
	o := opts.normalized()

	delay := o.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := o.Sleep(ctx, delay); err != nil {
				return err
			}
			delay = nextDelay(delay, o.MaxDelay)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !o.Retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", lastErr)
		}
	}
	return lastErr
}

func nextDelay(current, maxDelay time.Duration) time.Duration {
	next := current*2 + time.Duration(rand.Int63n(int64(maxJitter)))
	if next > maxDelay {
		return maxDelay
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether err looks like a transient network or timeout
// failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Connection-level failures (refused, reset, DNS) surface as
	// *net.OpError; check it before the generic net.Error branch, which
	// would otherwise swallow every OpError behind Timeout().
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
