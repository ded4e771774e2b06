package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := WithRetry(context.Background(), Options{
		MaxRetries: 3,
		Retryable:  func(error) bool { return true },
		Sleep:      noSleep,
	}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	permanent := errors.New("bad request")
	attempts := 0
	err := WithRetry(context.Background(), Options{
		MaxRetries: 5,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
		Sleep:      noSleep,
	}, func(context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestWithRetry_ExhaustionSurfacesLastError(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := WithRetry(context.Background(), Options{
		MaxRetries: 2,
		Retryable:  func(error) bool { return true },
		Sleep:      noSleep,
	}, func(context.Context) error {
		attempts++
		return fmt.Errorf("attempt %d failed", attempts)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
	if err.Error() != "attempt 3 failed" {
		t.Fatalf("expected last error to surface, got %v", err)
	}
}

func TestWithRetry_ContextCancelStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	err := WithRetry(ctx, Options{
		MaxRetries: 10,
		Retryable:  func(error) bool { return true },
		Sleep:      noSleep,
	}, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestNextDelay_CappedAtMax(t *testing.T) {
	t.Parallel()

	d := nextDelay(20*time.Second, DefaultMaxDelay)
	if d != DefaultMaxDelay {
		t.Fatalf("expected delay capped at %v, got %v", DefaultMaxDelay, d)
	}

	d = nextDelay(time.Second, DefaultMaxDelay)
	if d < 2*time.Second || d > 3*time.Second {
		t.Fatalf("expected doubled delay plus jitter under 1s, got %v", d)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if IsTransient(nil) {
		t.Fatal("nil error is not transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatal("cancellation is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
	if !IsTransient(&net.OpError{Op: "dial", Err: errors.New("connection refused")}) {
		t.Fatal("net.OpError should be transient")
	}
	if !IsTransient(fmt.Errorf("invoke target: %w", &net.OpError{Op: "read", Err: errors.New("connection reset by peer")})) {
		t.Fatal("wrapped net.OpError should be transient")
	}
	if IsTransient(nonTimeoutNetError{}) {
		t.Fatal("non-timeout net.Error should not be transient")
	}
	if !IsTransient(timeoutNetError{}) {
		t.Fatal("timeout net.Error should be transient")
	}
	if IsTransient(errors.New("validation failed")) {
		t.Fatal("generic error should not be transient")
	}
}

type nonTimeoutNetError struct{}

func (nonTimeoutNetError) Error() string   { return "no such host" }
func (nonTimeoutNetError) Timeout() bool   { return false }
func (nonTimeoutNetError) Temporary() bool { return false }

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return false }
