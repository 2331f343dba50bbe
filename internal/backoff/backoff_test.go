package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func TestDelayWithRand(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	tests := []struct {
		attempt int
		random  float64
		want    time.Duration
	}{
		{attempt: 1, random: 0, want: 100 * time.Millisecond},
		{attempt: 2, random: 0, want: 200 * time.Millisecond},
		{attempt: 3, random: 0.5, want: 500 * time.Millisecond},
		{attempt: 0, random: 0, want: 100 * time.Millisecond},
		{attempt: 10, random: 0, want: time.Second},
	}
	for _, tt := range tests {
		if got := DelayWithRand(p, tt.attempt, tt.random); got != tt.want {
			t.Errorf("DelayWithRand(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
		}
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
	calls := 0
	err := Retry(context.Background(), p, 5, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errTemporary
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
	calls := 0
	err := Retry(context.Background(), p, 3, func(context.Context, int) error {
		calls++
		return errTemporary
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) || !errors.Is(err, errTemporary) {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Initial: time.Hour, Max: time.Hour, Factor: 1}
	calls := 0
	err := Retry(ctx, p, 3, func(context.Context, int) error {
		calls++
		cancel()
		return errTemporary
	})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errTemporary) {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSleepNonPositive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, 0); err != nil {
		t.Fatalf("Sleep(0) = %v", err)
	}
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep(cancelled) = %v", err)
	}
}
