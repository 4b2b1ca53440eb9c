package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), RetryConfig{}, func(_ context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7 || calls != 1 {
		t.Errorf("got v=%d calls=%d", v, calls)
	}
}

func TestSingleRetry_RefreshesOnceThenSucceeds(t *testing.T) {
	var calls, refreshes int
	cfg := SingleRetry(func(_ context.Context, attempt int, _ error) error {
		refreshes++
		if attempt != 1 {
			t.Errorf("expected attempt 1, got %d", attempt)
		}
		return nil
	})

	v, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Volatile("search", errors.New("stale"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 2 || refreshes != 1 {
		t.Errorf("got v=%q calls=%d refreshes=%d", v, calls, refreshes)
	}
}

func TestSingleRetry_SecondFailurePropagates(t *testing.T) {
	var calls, refreshes int
	cfg := SingleRetry(func(context.Context, int, error) error {
		refreshes++
		return nil
	})

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return Volatile("add", errors.New("stale"))
	})
	if !IsVolatile(err) {
		t.Fatalf("expected volatile error, got %v", err)
	}
	if calls != 2 || refreshes != 1 {
		t.Errorf("expected 2 calls and 1 refresh, got %d and %d", calls, refreshes)
	}
}

func TestSingleRetry_NonVolatileNotRetried(t *testing.T) {
	var calls int
	cfg := SingleRetry(func(context.Context, int, error) error {
		t.Error("refresh must not run")
		return nil
	})
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("login rejected")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected 1 call with error, got %d calls err=%v", calls, err)
	}
}

func TestDo_RecoveryFailureAborts(t *testing.T) {
	var calls int
	refreshErr := errors.New("browser gone")
	cfg := SingleRetry(func(context.Context, int, error) error { return refreshErr })

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return Volatile("search", errors.New("stale"))
	})
	if !errors.Is(err, refreshErr) {
		t.Fatalf("expected refresh error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		OnRetry: func(context.Context, int, error) error {
			cancel()
			return nil
		},
	}
	var calls int
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("unavailable"), 503)
	})
	if err == nil || calls != 1 {
		t.Errorf("expected stop after first call, got %d calls err=%v", calls, err)
	}
}

func TestComputeBackoff(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
	})
	if d := computeBackoff(0, cfg); d != 100*time.Millisecond {
		t.Errorf("attempt 0: got %v", d)
	}
	if d := computeBackoff(1, cfg); d != 200*time.Millisecond {
		t.Errorf("attempt 1: got %v", d)
	}
	if d := computeBackoff(4, cfg); d != 300*time.Millisecond {
		t.Errorf("attempt 4: got %v", d)
	}
	if d := computeBackoff(0, applyDefaults(RetryConfig{})); d != 0 {
		t.Errorf("expected immediate retry, got %v", d)
	}
}

func TestRetryLogger(t *testing.T) {
	fn := RetryLogger("sting", "search")
	if err := fn(context.Background(), 1, errors.New("x")); err != nil {
		t.Errorf("logger must not abort retries: %v", err)
	}
}
