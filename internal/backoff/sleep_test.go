package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func TestSleepWithContext_Completes(t *testing.T) {
	start := time.Now()
	if err := SleepWithContext(context.Background(), 30*time.Millisecond); err != nil {
		t.Fatalf("SleepWithContext() error = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("SleepWithContext() completed too quickly: %v", elapsed)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := SleepWithContext(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("SleepWithContext() error = %v, want context.Canceled", err)
	}
}

func TestRetry_SucceedsAfterRetries(t *testing.T) {
	var calls int32
	err := Retry(context.Background(), Linear{Unit: time.Millisecond}, 5, func(attempt int) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errTemporary
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	err := Retry(context.Background(), Linear{Unit: time.Millisecond}, 2, func(int) error {
		return errTemporary
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("expected ErrMaxAttemptsExhausted, got %v", err)
	}
	if !errors.Is(err, errTemporary) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, Linear{Unit: time.Millisecond}, 3, func(int) error {
		t.Fatal("fn should not be called")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
