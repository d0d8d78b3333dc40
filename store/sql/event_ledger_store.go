package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/projectpulse/ingest/core"
)

// EventLedgerStore is the durable idempotency ledger. The unique index
// on event_id turns concurrent redeliveries into an insert race that
// exactly one request wins; losers read the winner's row back.
type EventLedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func NewEventLedgerStore(db *bun.DB) (*EventLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook event repository wiring: %w", err)
		}
	}
	return &EventLedgerStore{db: db, repo: repo}, nil
}

func (s *EventLedgerStore) RecordSeen(ctx context.Context, seen core.SeenEvent) (core.LedgerEntry, bool, error) {
	if s == nil || s.db == nil {
		return core.LedgerEntry{}, false, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	if err := seen.Validate(); err != nil {
		return core.LedgerEntry{}, false, err
	}

	record := &webhookEventRecord{
		ID:            uuid.NewString(),
		EventID:       strings.TrimSpace(seen.EventID),
		Source:        string(seen.Source),
		EventType:     strings.TrimSpace(seen.EventType),
		Payload:       append([]byte(nil), seen.Payload...),
		CorrelationID: strings.TrimSpace(seen.CorrelationID),
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, seen.EventID)
			if getErr != nil {
				return core.LedgerEntry{}, false, getErr
			}
			return existing, true, nil
		}
		return core.LedgerEntry{}, false, err
	}
	return webhookEventToDomain(record), false, nil
}

func (s *EventLedgerStore) MarkProcessed(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("processed = ?", true).
		Set("processed_at = ?", now).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return core.ErrLedgerNotFound
	}
	return nil
}

func (s *EventLedgerStore) Get(ctx context.Context, eventID string) (core.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return core.LedgerEntry{}, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.LedgerEntry{}, core.ErrLedgerNotFound
		}
		return core.LedgerEntry{}, err
	}
	return webhookEventToDomain(record), nil
}

func webhookEventToDomain(record *webhookEventRecord) core.LedgerEntry {
	if record == nil {
		return core.LedgerEntry{}
	}
	entry := core.LedgerEntry{
		ID:            record.ID,
		EventID:       record.EventID,
		Source:        core.Source(record.Source),
		EventType:     record.EventType,
		Payload:       append([]byte(nil), record.Payload...),
		Processed:     record.Processed,
		CorrelationID: record.CorrelationID,
		CreatedAt:     record.CreatedAt,
	}
	if record.ProcessedAt != nil {
		value := record.ProcessedAt.UTC()
		entry.ProcessedAt = &value
	}
	return entry
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.EventLedger = (*EventLedgerStore)(nil)
