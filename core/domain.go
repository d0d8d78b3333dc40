package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSource      = errors.New("core: invalid source")
	ErrEntityNotFound     = errors.New("core: tracked entity not found")
	ErrLedgerNotFound     = errors.New("core: ledger entry not found")
	ErrDeadLetterNotFound = errors.New("core: dead letter not found")
)

// Source identifies which upstream system of record produced a delivery.
type Source string

const (
	SourceTracker Source = "tracker"
	SourceVCS     Source = "vcs"
)

func ParseSource(value string) (Source, error) {
	switch Source(strings.TrimSpace(strings.ToLower(value))) {
	case SourceTracker:
		return SourceTracker, nil
	case SourceVCS:
		return SourceVCS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, value)
	}
}

func (s Source) Validate() error {
	_, err := ParseSource(string(s))
	return err
}

// Entity categories used for cache-invalidation tags and dashboard grouping.
const (
	CategoryIssue        = "issue"
	CategoryMergeRequest = "merge_request"
	CategoryPush         = "push"
)

// SeenEvent is the eager ledger input: it is recorded before strict
// validation so redeliveries of a permanently broken payload dedupe
// instead of re-walking the pipeline.
type SeenEvent struct {
	EventID       string
	Source        Source
	EventType     string
	Payload       []byte
	CorrelationID string
}

func (e SeenEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("core: event id is required")
	}
	if err := e.Source.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

// LedgerEntry is one row of the idempotency ledger, keyed by EventID.
type LedgerEntry struct {
	ID            string
	EventID       string
	Source        Source
	EventType     string
	Payload       []byte
	Processed     bool
	ProcessedAt   *time.Time
	CorrelationID string
	CreatedAt     time.Time
}

// EntityMutation is the projection change a decoded event carries.
type EntityMutation struct {
	EntityKey string
	Category  string
	Title     string
	State     string
	Assignee  string
	URL       string
	Snapshot  map[string]any
}

// Event is a validated, typed delivery ready for reconciliation.
// Ordered is true for full-state snapshot events that are subject to
// the last-writer-wins ordering check; append events (pushes) are not.
type Event struct {
	Source          Source
	EventType       string
	EventID         string
	CorrelationID   string
	Ordered         bool
	SourceUpdatedAt time.Time
	Mutation        EntityMutation
}

func (e Event) Validate() error {
	if err := e.Source.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("core: event type is required")
	}
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("core: event id is required")
	}
	if strings.TrimSpace(e.Mutation.EntityKey) == "" {
		return fmt.Errorf("core: entity key is required")
	}
	if e.Ordered && e.SourceUpdatedAt.IsZero() {
		return fmt.Errorf("core: ordered event requires a source timestamp")
	}
	return nil
}

// Entity is the durable projection read by the dashboard.
// SourceUpdatedAt carries the upstream system's own last-modified time
// and is monotonically non-decreasing per EntityKey.
type Entity struct {
	ID              string
	EntityKey       string
	Source          Source
	Category        string
	Title           string
	State           string
	Assignee        string
	URL             string
	Snapshot        map[string]any
	SourceUpdatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type UpsertEntityInput struct {
	EntityKey       string
	Source          Source
	Category        string
	Title           string
	State           string
	Assignee        string
	URL             string
	Snapshot        map[string]any
	SourceUpdatedAt time.Time
}

func (in UpsertEntityInput) Validate() error {
	if strings.TrimSpace(in.EntityKey) == "" {
		return fmt.Errorf("core: entity key is required")
	}
	if err := in.Source.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Category) == "" {
		return fmt.Errorf("core: entity category is required")
	}
	return nil
}

// DeadLetter preserves a delivery that could not be applied, byte for
// byte, for operator inspection and replay.
type DeadLetter struct {
	ID            string
	Source        Source
	EventType     string
	EventID       string
	Payload       []byte
	ErrorMessage  string
	RetryCount    int
	CorrelationID string
	ReplayedAt    *time.Time
	CreatedAt     time.Time
}

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// HealthRecord is overwritten on every pipeline or refresh run. It is
// observability only and never feeds back into control flow.
type HealthRecord struct {
	Service   string
	Status    HealthStatus
	Detail    string
	CheckedAt time.Time
}

// Subscription mirrors the upstream webhook registration the refresher
// rotates before expiry.
type Subscription struct {
	ID          string
	Source      Source
	CallbackURL string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// ChangeNotice is the lightweight fan-out payload broadcast to live
// dashboard subscribers after a durable apply.
type ChangeNotice struct {
	EventType     string `json:"eventType"`
	EventID       string `json:"eventId"`
	CorrelationID string `json:"correlationId"`
}

// SynthesizeEventID builds a stable delivery identifier when the
// upstream omits one, from the fields that make a delivery unique.
func SynthesizeEventID(source Source, eventType string, entityKey string, occurredAt time.Time) string {
	return strings.Join([]string{
		string(source),
		strings.TrimSpace(eventType),
		strings.TrimSpace(entityKey),
		fmt.Sprint(occurredAt.UTC().UnixMilli()),
	}, ":")
}
