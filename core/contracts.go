package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// EventLedger guarantees at-most-once effective processing despite
// at-least-once upstream delivery. RecordSeen inserts eagerly, before
// strict validation; the duplicate flag short-circuits the pipeline.
type EventLedger interface {
	RecordSeen(ctx context.Context, seen SeenEvent) (LedgerEntry, bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	Get(ctx context.Context, eventID string) (LedgerEntry, error)
}

// EntityStore owns the durable projection. Upsert is keyed by the
// natural entity key; the unique constraint is the serialization point
// for concurrent deliveries of the same entity.
type EntityStore interface {
	Get(ctx context.Context, entityKey string) (Entity, error)
	Upsert(ctx context.Context, in UpsertEntityInput) (Entity, error)
	LastSourceUpdate(ctx context.Context, entityKey string) (time.Time, bool, error)
}

// DeadLetterStore is append-only; entries are never mutated apart from
// the replay marker set by the operator replay command.
type DeadLetterStore interface {
	Record(ctx context.Context, entry DeadLetter) (DeadLetter, error)
	Get(ctx context.Context, id string) (DeadLetter, error)
	ListUnreplayed(ctx context.Context, limit int) ([]DeadLetter, error)
	MarkReplayed(ctx context.Context, id string, replayedAt time.Time) error
}

type HealthStore interface {
	Upsert(ctx context.Context, record HealthRecord) error
	Get(ctx context.Context, service string) (HealthRecord, error)
}

// Broadcaster publishes change notices on a named channel. Failures are
// logged by callers and never fail the primary path.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, notice ChangeNotice) error
}

// CacheInvalidator drops cached read-views tagged with an entity
// category after a durable apply.
type CacheInvalidator interface {
	InvalidateCategory(ctx context.Context, category string) error
}

// OperatorNotifier alerts a human whenever a delivery dead-letters.
// Best effort only.
type OperatorNotifier interface {
	NotifyOperator(ctx context.Context, entry DeadLetter) error
}

// Sleeper abstracts retry backoff sleeps so retry behavior is testable
// without real delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
