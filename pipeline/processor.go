package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/schema"
	"github.com/projectpulse/ingest/signature"
)

const (
	StatusProcessed    = "processed"
	StatusDuplicate    = "duplicate"
	StatusStale        = "stale"
	StatusAcknowledged = "acknowledged"
)

// Delivery is one raw inbound webhook request.
type Delivery struct {
	Source  core.Source
	Body    []byte
	Headers map[string]string
}

// Outcome is the pipeline's answer for a delivery. StatusCode is the
// HTTP status the transport should return.
type Outcome struct {
	Status     string
	StatusCode int
	EventID    string
	Metadata   map[string]any
}

// ChangeNotifier fans a durably applied event out to live consumers.
type ChangeNotifier interface {
	NotifyChanged(ctx context.Context, event core.Event) error
}

// Processor runs the full ingestion pipeline for one delivery:
// verify, parse, dedupe, validate, order-check, reconcile, fan out.
// Stateless across deliveries; every dependency is injected.
type Processor struct {
	Verifiers   map[core.Source]signature.Verifier
	Registry    *schema.Registry
	Ledger      core.EventLedger
	Entities    core.EntityStore
	DeadLetters core.DeadLetterStore
	Health      core.HealthStore
	Notifier    ChangeNotifier
	Operator    core.OperatorNotifier
	Telemetry   *core.Telemetry
	Backoff     BackoffPolicy
	Sleeper     core.Sleeper
	MaxRetries  int
	Now         func() time.Time
}

func NewProcessor(
	verifiers map[core.Source]signature.Verifier,
	registry *schema.Registry,
	ledger core.EventLedger,
	entities core.EntityStore,
	deadLetters core.DeadLetterStore,
) *Processor {
	return &Processor{
		Verifiers:   verifiers,
		Registry:    registry,
		Ledger:      ledger,
		Entities:    entities,
		DeadLetters: deadLetters,
		Backoff:     FixedBackoffPolicy{},
		Sleeper:     TimerSleeper{},
		MaxRetries:  3,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, delivery Delivery) (Outcome, error) {
	if p == nil || p.Registry == nil || p.Ledger == nil || p.Entities == nil {
		return Outcome{}, fmt.Errorf("pipeline: processor requires registry, ledger, and entity store")
	}
	if err := delivery.Source.Validate(); err != nil {
		return Outcome{}, core.MapError(err)
	}

	ctx, correlationID := core.EnsureCorrelationID(ctx)

	if verifier, ok := p.Verifiers[delivery.Source]; ok {
		if err := verifier.Verify(ctx, delivery.Body, delivery.Headers); err != nil {
			p.telemetry().Warn(ctx, "delivery rejected", map[string]any{
				"source": delivery.Source,
				"reason": "signature",
			})
			return Outcome{
				StatusCode: http.StatusUnauthorized,
				Metadata:   map[string]any{"rejected": true},
			}, err
		}
	}

	env, err := schema.ParseEnvelope(delivery.Source, delivery.Body)
	if err != nil {
		p.deadLetter(ctx, core.DeadLetter{
			Source:        delivery.Source,
			EventType:     "unknown",
			EventID:       core.SynthesizeEventID(delivery.Source, "unknown", "unknown", p.now()),
			Payload:       delivery.Body,
			ErrorMessage:  err.Error(),
			CorrelationID: correlationID,
		})
		return Outcome{StatusCode: core.HTTPStatus(err)}, err
	}

	// Unsupported event types are acknowledged and dropped without a
	// ledger row: there is nothing to deduplicate against.
	if !p.Registry.Supports(env.Source, env.EventType) {
		return Outcome{
			Status:     StatusAcknowledged,
			StatusCode: http.StatusOK,
			EventID:    env.EventID,
			Metadata:   map[string]any{"dropped": true, "event_type": env.EventType},
		}, nil
	}

	entry, duplicate, err := p.Ledger.RecordSeen(ctx, core.SeenEvent{
		EventID:       env.EventID,
		Source:        env.Source,
		EventType:     env.EventType,
		Payload:       delivery.Body,
		CorrelationID: correlationID,
	})
	if err != nil {
		return Outcome{StatusCode: http.StatusInternalServerError},
			core.NewProcessingError(err, "pipeline: ledger record failed")
	}
	if duplicate {
		return Outcome{
			Status:     StatusDuplicate,
			StatusCode: http.StatusOK,
			EventID:    env.EventID,
			Metadata: map[string]any{
				"deduped":   true,
				"processed": entry.Processed,
			},
		}, nil
	}

	event, err := p.Registry.Decode(env)
	if err != nil {
		p.deadLetter(ctx, core.DeadLetter{
			Source:        env.Source,
			EventType:     env.EventType,
			EventID:       env.EventID,
			Payload:       delivery.Body,
			ErrorMessage:  err.Error(),
			CorrelationID: correlationID,
		})
		return Outcome{StatusCode: core.HTTPStatus(err), EventID: env.EventID}, err
	}
	event.CorrelationID = correlationID

	if event.Ordered {
		last, found, err := p.Entities.LastSourceUpdate(ctx, event.Mutation.EntityKey)
		if err != nil {
			return Outcome{StatusCode: http.StatusInternalServerError, EventID: env.EventID},
				core.NewProcessingError(err, "pipeline: ordering check failed")
		}
		if found && last.After(event.SourceUpdatedAt) {
			// Stale snapshot: discarding it is the processed outcome.
			if err := p.Ledger.MarkProcessed(ctx, env.EventID); err != nil {
				return Outcome{StatusCode: http.StatusInternalServerError, EventID: env.EventID},
					core.NewProcessingError(err, "pipeline: ledger mark failed")
			}
			p.telemetry().Info(ctx, "stale snapshot discarded", map[string]any{
				"entity_key":        event.Mutation.EntityKey,
				"event_id":          env.EventID,
				"source_updated_at": event.SourceUpdatedAt,
				"stored_updated_at": last,
			})
			return Outcome{
				Status:     StatusStale,
				StatusCode: http.StatusOK,
				EventID:    env.EventID,
				Metadata:   map[string]any{"discarded": true},
			}, nil
		}
	}

	attempts, err := Retry(ctx, p.maxRetries(), p.backoff(), p.sleeper(), func(ctx context.Context) error {
		return p.reconcile(ctx, event)
	})
	if err != nil {
		p.deadLetter(ctx, core.DeadLetter{
			Source:        env.Source,
			EventType:     env.EventType,
			EventID:       env.EventID,
			Payload:       delivery.Body,
			ErrorMessage:  err.Error(),
			RetryCount:    attempts - 1,
			CorrelationID: correlationID,
		})
		p.recordHealth(ctx, env.Source, core.HealthStatusDegraded, err.Error())
		return Outcome{StatusCode: http.StatusInternalServerError, EventID: env.EventID},
			core.NewProcessingError(err, "pipeline: reconciliation exhausted retries")
	}

	p.notifyChanged(ctx, event)
	p.recordHealth(ctx, env.Source, core.HealthStatusHealthy, "")

	return Outcome{
		Status:     StatusProcessed,
		StatusCode: http.StatusOK,
		EventID:    env.EventID,
		Metadata:   map[string]any{"attempts": attempts},
	}, nil
}

// Replay pushes a dead-lettered payload back through validation and
// reconciliation, then marks the entry replayed.
func (p *Processor) Replay(ctx context.Context, entry core.DeadLetter) (Outcome, error) {
	if p == nil || p.Registry == nil || p.Entities == nil {
		return Outcome{}, fmt.Errorf("pipeline: processor requires registry and entity store")
	}
	ctx = core.WithCorrelationID(ctx, entry.CorrelationID)
	ctx, _ = core.EnsureCorrelationID(ctx)

	env, err := schema.ParseEnvelope(entry.Source, entry.Payload)
	if err != nil {
		return Outcome{StatusCode: core.HTTPStatus(err)}, err
	}
	event, err := p.Registry.Decode(env)
	if err != nil {
		return Outcome{StatusCode: core.HTTPStatus(err), EventID: env.EventID}, err
	}
	event.CorrelationID = core.CorrelationID(ctx)

	attempts, err := Retry(ctx, p.maxRetries(), p.backoff(), p.sleeper(), func(ctx context.Context) error {
		return p.reconcile(ctx, event)
	})
	if err != nil {
		return Outcome{StatusCode: http.StatusInternalServerError, EventID: env.EventID},
			core.NewProcessingError(err, "pipeline: replay exhausted retries")
	}

	p.notifyChanged(ctx, event)

	if p.DeadLetters != nil {
		if err := p.DeadLetters.MarkReplayed(ctx, entry.ID, p.now()); err != nil {
			p.telemetry().Error(ctx, "replay marker write failed", map[string]any{
				"dead_letter_id": entry.ID,
				"error":          err.Error(),
			})
		}
	}
	return Outcome{
		Status:     StatusProcessed,
		StatusCode: http.StatusOK,
		EventID:    env.EventID,
		Metadata:   map[string]any{"attempts": attempts, "replayed": true},
	}, nil
}

// reconcile is one attempt at the durable apply: project the mutation,
// then flip the ledger row. MarkProcessed tolerates a missing row so
// replays of envelope-stage dead letters can still land.
func (p *Processor) reconcile(ctx context.Context, event core.Event) error {
	_, err := p.Entities.Upsert(ctx, core.UpsertEntityInput{
		EntityKey:       event.Mutation.EntityKey,
		Source:          event.Source,
		Category:        event.Mutation.Category,
		Title:           event.Mutation.Title,
		State:           event.Mutation.State,
		Assignee:        event.Mutation.Assignee,
		URL:             event.Mutation.URL,
		Snapshot:        event.Mutation.Snapshot,
		SourceUpdatedAt: event.SourceUpdatedAt,
	})
	if err != nil {
		return err
	}
	if p.Ledger == nil {
		return nil
	}
	if err := p.Ledger.MarkProcessed(ctx, event.EventID); err != nil && !errors.Is(err, core.ErrLedgerNotFound) {
		return err
	}
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, entry core.DeadLetter) {
	if p.DeadLetters == nil {
		return
	}
	recorded, err := p.DeadLetters.Record(ctx, entry)
	if err != nil {
		p.telemetry().Error(ctx, "dead letter write failed", map[string]any{
			"event_id": entry.EventID,
			"error":    err.Error(),
		})
		return
	}
	p.telemetry().Warn(ctx, "delivery dead-lettered", map[string]any{
		"event_id":    recorded.EventID,
		"event_type":  recorded.EventType,
		"retry_count": recorded.RetryCount,
	})
	if p.Operator == nil {
		return
	}
	notifyCtx := core.WithCorrelationID(context.Background(), entry.CorrelationID)
	go func() {
		if err := p.Operator.NotifyOperator(notifyCtx, recorded); err != nil {
			p.telemetry().Error(notifyCtx, "operator notification failed", map[string]any{
				"event_id": recorded.EventID,
				"error":    err.Error(),
			})
		}
	}()
}

func (p *Processor) notifyChanged(ctx context.Context, event core.Event) {
	if p.Notifier == nil {
		return
	}
	if err := p.Notifier.NotifyChanged(ctx, event); err != nil {
		p.telemetry().Error(ctx, "change fan-out failed", map[string]any{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
}

func (p *Processor) recordHealth(ctx context.Context, source core.Source, status core.HealthStatus, detail string) {
	if p.Health == nil {
		return
	}
	record := core.HealthRecord{
		Service:   string(source) + ":webhook",
		Status:    status,
		Detail:    detail,
		CheckedAt: p.now(),
	}
	if err := p.Health.Upsert(ctx, record); err != nil {
		p.telemetry().Error(ctx, "health record write failed", map[string]any{
			"service": record.Service,
			"error":   err.Error(),
		})
	}
}

func (p *Processor) telemetry() *core.Telemetry {
	if p != nil && p.Telemetry != nil {
		return p.Telemetry
	}
	return core.NewTelemetry("pipeline", nil, nil)
}

func (p *Processor) backoff() BackoffPolicy {
	if p != nil && p.Backoff != nil {
		return p.Backoff
	}
	return FixedBackoffPolicy{}
}

func (p *Processor) sleeper() core.Sleeper {
	if p != nil && p.Sleeper != nil {
		return p.Sleeper
	}
	return TimerSleeper{}
}

func (p *Processor) maxRetries() int {
	if p != nil && p.MaxRetries >= 0 {
		return p.MaxRetries
	}
	return 3
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
