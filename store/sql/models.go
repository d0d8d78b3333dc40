package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:webhook_events,alias:we"`

	ID            string     `bun:"id,pk"`
	EventID       string     `bun:"event_id,notnull"`
	Source        string     `bun:"source,notnull"`
	EventType     string     `bun:"event_type,notnull"`
	Payload       []byte     `bun:"payload"`
	Processed     bool       `bun:"processed,notnull"`
	ProcessedAt   *time.Time `bun:"processed_at,nullzero"`
	CorrelationID string     `bun:"correlation_id"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type trackedEntityRecord struct {
	bun.BaseModel `bun:"table:tracked_entities,alias:te"`

	ID              string         `bun:"id,pk"`
	EntityKey       string         `bun:"entity_key,notnull"`
	Source          string         `bun:"source,notnull"`
	Category        string         `bun:"category,notnull"`
	Title           string         `bun:"title"`
	State           string         `bun:"state"`
	Assignee        string         `bun:"assignee"`
	URL             string         `bun:"url"`
	Snapshot        map[string]any `bun:"snapshot,type:jsonb,notnull"`
	SourceUpdatedAt time.Time      `bun:"source_updated_at,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:dead_letters,alias:dl"`

	ID            string     `bun:"id,pk"`
	Source        string     `bun:"source,notnull"`
	EventType     string     `bun:"event_type,notnull"`
	EventID       string     `bun:"event_id,notnull"`
	Payload       []byte     `bun:"payload"`
	ErrorMessage  string     `bun:"error_message,notnull"`
	RetryCount    int        `bun:"retry_count,notnull"`
	CorrelationID string     `bun:"correlation_id"`
	ReplayedAt    *time.Time `bun:"replayed_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type serviceHealthRecord struct {
	bun.BaseModel `bun:"table:service_health,alias:sh"`

	ID        string    `bun:"id,pk"`
	Service   string    `bun:"service,notnull"`
	Status    string    `bun:"status,notnull"`
	Detail    string    `bun:"detail"`
	CheckedAt time.Time `bun:"checked_at,nullzero,notnull"`
}
