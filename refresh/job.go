package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/projectpulse/ingest/core"
)

const JobIDRefresh = "ingest.refresh"

// NewRefreshMessage builds the queue message that triggers one refresh
// run. The idempotency key collapses duplicate triggers fired within
// the same interval window.
func NewRefreshMessage(source core.Source, window time.Time, interval time.Duration) *core.JobExecutionMessage {
	if interval <= 0 {
		interval = 25 * 24 * time.Hour
	}
	bucket := window.UTC().Unix() / int64(interval/time.Second)
	return &core.JobExecutionMessage{
		JobID: JobIDRefresh,
		Parameters: map[string]any{
			"source": string(source),
		},
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", JobIDRefresh, source, bucket),
		DedupPolicy:    "drop",
	}
}

// Scheduler enqueues refresh triggers on a fixed cadence, one message
// per configured source per tick.
type Scheduler struct {
	Enqueuer  core.JobEnqueuer
	Sources   []core.Source
	Interval  time.Duration
	Telemetry *core.Telemetry
	Now       func() time.Time
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.Enqueuer == nil {
		return fmt.Errorf("refresh: scheduler requires an enqueuer")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 25 * 24 * time.Hour
	}

	if err := s.enqueueAll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.enqueueAll(ctx); err != nil {
				s.telemetry().Error(ctx, "refresh trigger enqueue failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}

func (s *Scheduler) enqueueAll(ctx context.Context) error {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	var firstErr error
	for _, source := range s.Sources {
		msg := NewRefreshMessage(source, now, s.Interval)
		if err := s.Enqueuer.Enqueue(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) telemetry() *core.Telemetry {
	if s != nil && s.Telemetry != nil {
		return s.Telemetry
	}
	return core.NewTelemetry("refresh", nil, nil)
}

// Runner consumes refresh triggers from the job queue and executes the
// refresher for the source each message names.
type Runner struct {
	Dequeuer   core.JobDequeuer
	Refreshers map[core.Source]*Refresher
	Hook       core.JobWorkerHook
	Telemetry  *core.Telemetry
}

func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.Dequeuer == nil {
		return fmt.Errorf("refresh: runner requires a dequeuer")
	}
	for {
		delivery, err := r.Dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.telemetry().Error(ctx, "refresh dequeue failed", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		r.handle(ctx, delivery)
	}
}

func (r *Runner) handle(ctx context.Context, delivery core.JobDelivery) {
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDRefresh {
		_ = delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "refresh: unexpected job message",
		})
		return
	}

	started := time.Now().UTC()
	event := core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: started}
	if r.Hook != nil {
		r.Hook.OnStart(ctx, event)
	}

	source, _ := msg.Parameters["source"].(string)
	refresher, ok := r.Refreshers[core.Source(strings.TrimSpace(source))]
	if !ok {
		_ = delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("refresh: no refresher for source %q", source),
		})
		return
	}

	_, err := refresher.Run(ctx)
	event.Duration = time.Since(started)
	event.Err = err
	if err != nil {
		// The refresher already dead-lettered and degraded health; the
		// queue message itself is spent.
		if r.Hook != nil {
			r.Hook.OnFailure(ctx, event)
		}
		_ = delivery.Nack(ctx, core.JobNackOptions{
			Requeue: false,
			Reason:  err.Error(),
		})
		return
	}
	if r.Hook != nil {
		r.Hook.OnSuccess(ctx, event)
	}
	if err := delivery.Ack(ctx); err != nil {
		r.telemetry().Error(ctx, "refresh ack failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (r *Runner) telemetry() *core.Telemetry {
	if r != nil && r.Telemetry != nil {
		return r.Telemetry
	}
	return core.NewTelemetry("refresh", nil, nil)
}
