package prediction

import (
	"context"
	"time"
)

// Policy describes a bounded retry schedule with exponential backoff.
// Delay starts at BaseDelay and is multiplied by Factor after each failed
// attempt; no sleep follows the final attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      int
	// Sleep is the wait implementation, injectable for tests.
	// Defaults to a context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultSleep waits for d or until the context is cancelled.
func DefaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op until it succeeds or attempts are exhausted, returning the
// last error. The attempt number passed to op is 1-based.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = DefaultSleep
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt < p.MaxAttempts {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay *= time.Duration(p.Factor)
		}
	}

	return lastErr
}
