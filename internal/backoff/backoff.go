// Package backoff retries best-effort operations with exponential backoff
// and jitter.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExhausted is returned when every attempt failed. The last
// failure is joined to it.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps every delay.
	Max time.Duration
	// Factor is applied once per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0).
	Jitter float64
}

// CleanupPolicy paces retries of isolation unit removal.
// Initial: 200ms, Max: 2s, Factor: 2, Jitter: 10%
func CleanupPolicy() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     2 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the pause after the given failed attempt (1-indexed).
func Delay(p Policy, attempt int) time.Duration {
	return DelayWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-supplied random value in [0, 1).
func DelayWithRand(p Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(total)
}

// Retry calls fn up to maxAttempts times, sleeping between failures.
// Context cancellation stops the loop between attempts.
func Retry(ctx context.Context, p Policy, maxAttempts int, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, Delay(p, attempt)); err != nil {
				return errors.Join(err, lastErr)
			}
		}
	}
	return errors.Join(ErrMaxAttemptsExhausted, lastErr)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
