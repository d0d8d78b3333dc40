package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func TestFixedBackoffPolicyWalksSchedule(t *testing.T) {
	policy := FixedBackoffPolicy{}
	want := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, expected := range want {
		if got := policy.NextDelay(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	attempts, err := Retry(context.Background(), 3, FixedBackoffPolicy{}, sleeper, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(sleeper.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", sleeper.delays)
	}
	if sleeper.delays[0] != time.Second || sleeper.delays[1] != 5*time.Second {
		t.Fatalf("unexpected backoff delays %v", sleeper.delays)
	}
}

func TestRetryExhaustsSchedule(t *testing.T) {
	sleeper := &recordingSleeper{}
	attempts, err := Retry(context.Background(), 3, FixedBackoffPolicy{}, sleeper, func(context.Context) error {
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts (1 initial + 3 retries), got %d", attempts)
	}
	want := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeper.delays)
	}
	for i, expected := range want {
		if sleeper.delays[i] != expected {
			t.Fatalf("sleep %d: expected %v, got %v", i, expected, sleeper.delays[i])
		}
	}
}

func TestRetryStopsOnCanceledSleep(t *testing.T) {
	sleeper := &recordingSleeper{err: context.Canceled}
	attempts, err := Retry(context.Background(), 3, FixedBackoffPolicy{}, sleeper, func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestTimerSleeperHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (TimerSleeper{}).Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
