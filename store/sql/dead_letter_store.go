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

type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

func (s *DeadLetterStore) Record(ctx context.Context, entry core.DeadLetter) (core.DeadLetter, error) {
	if s == nil || s.db == nil {
		return core.DeadLetter{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	record := &deadLetterRecord{
		ID:            uuid.NewString(),
		Source:        string(entry.Source),
		EventType:     strings.TrimSpace(entry.EventType),
		EventID:       strings.TrimSpace(entry.EventID),
		Payload:       append([]byte(nil), entry.Payload...),
		ErrorMessage:  entry.ErrorMessage,
		RetryCount:    entry.RetryCount,
		CorrelationID: strings.TrimSpace(entry.CorrelationID),
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.DeadLetter{}, err
	}
	return deadLetterToDomain(record), nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (core.DeadLetter, error) {
	if s == nil || s.db == nil {
		return core.DeadLetter{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	record := &deadLetterRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DeadLetter{}, core.ErrDeadLetterNotFound
		}
		return core.DeadLetter{}, err
	}
	return deadLetterToDomain(record), nil
}

func (s *DeadLetterStore) ListUnreplayed(ctx context.Context, limit int) ([]core.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	query := s.db.NewSelect().
		Model((*deadLetterRecord)(nil)).
		Where("?TableAlias.replayed_at IS NULL").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []*deadLetterRecord
	if err := query.Scan(ctx, &records); err != nil {
		return nil, err
	}
	out := make([]core.DeadLetter, 0, len(records))
	for _, record := range records {
		out = append(out, deadLetterToDomain(record))
	}
	return out, nil
}

func (s *DeadLetterStore) MarkReplayed(ctx context.Context, id string, replayedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*deadLetterRecord)(nil)).
		Set("replayed_at = ?", replayedAt.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return core.ErrDeadLetterNotFound
	}
	return nil
}

func deadLetterToDomain(record *deadLetterRecord) core.DeadLetter {
	if record == nil {
		return core.DeadLetter{}
	}
	entry := core.DeadLetter{
		ID:            record.ID,
		Source:        core.Source(record.Source),
		EventType:     record.EventType,
		EventID:       record.EventID,
		Payload:       append([]byte(nil), record.Payload...),
		ErrorMessage:  record.ErrorMessage,
		RetryCount:    record.RetryCount,
		CorrelationID: record.CorrelationID,
		CreatedAt:     record.CreatedAt,
	}
	if record.ReplayedAt != nil {
		value := record.ReplayedAt.UTC()
		entry.ReplayedAt = &value
	}
	return entry
}

var _ core.DeadLetterStore = (*DeadLetterStore)(nil)
