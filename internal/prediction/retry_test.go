package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep returns a fake Sleep that records requested delays without
// actually waiting.
func recordingSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestPolicy_Do_SucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2, Sleep: recordingSleep(&delays)}

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = attempt
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
}

func TestPolicy_Do_BacksOffExponentially(t *testing.T) {
	var delays []time.Duration
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2, Sleep: recordingSleep(&delays)}

	var seen []int
	err := policy.Do(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestPolicy_Do_ReturnsLastErrorWhenExhausted(t *testing.T) {
	var delays []time.Duration
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2, Sleep: recordingSleep(&delays)}

	lastErr := errors.New("attempt 3 failed")
	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 3 {
			return lastErr
		}
		return errors.New("earlier failure")
	})

	require.ErrorIs(t, err, lastErr)
	assert.Equal(t, 3, calls)
	// No sleep after the final attempt
	assert.Len(t, delays, 2)
}

func TestPolicy_Do_StopsWhenContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	calls := 0
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDefaultSleep_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DefaultSleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
