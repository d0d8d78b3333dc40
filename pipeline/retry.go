package pipeline

import (
	"context"
	"time"

	"github.com/projectpulse/ingest/core"
)

// BackoffPolicy yields the delay before retry attempt n (1-based).
type BackoffPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedBackoffPolicy walks a fixed schedule, holding at the last entry
// for any attempts beyond it. The zero value uses the default schedule.
type FixedBackoffPolicy struct {
	Schedule []time.Duration
}

func (p FixedBackoffPolicy) NextDelay(attempt int) time.Duration {
	schedule := p.Schedule
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule()
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(schedule) {
		attempt = len(schedule)
	}
	return schedule[attempt-1]
}

// DefaultBackoffSchedule bounds the worst-case delivery hold time to
// roughly 36 seconds across all retries.
func DefaultBackoffSchedule() []time.Duration {
	return []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
}

// TimerSleeper waits on a timer while honoring context cancellation.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// Retry runs fn once plus up to maxRetries additional attempts,
// sleeping per the policy between attempts. It returns the number of
// attempts made and the last error when all attempts fail.
func Retry(ctx context.Context, maxRetries int, policy BackoffPolicy, sleeper core.Sleeper, fn func(ctx context.Context) error) (int, error) {
	if policy == nil {
		policy = FixedBackoffPolicy{}
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		if err := fn(ctx); err == nil {
			return attempts, nil
		} else {
			lastErr = err
		}
		if attempt == maxRetries {
			break
		}
		if err := sleeper.Sleep(ctx, policy.NextDelay(attempt+1)); err != nil {
			return attempts, err
		}
	}
	return attempts, lastErr
}
