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

// EntityStore owns the tracked_entities projection. Upsert carries a
// last-writer-wins guard on source_updated_at so a stale snapshot can
// never overwrite a newer one, even when two deliveries race past the
// pipeline's own ordering check.
type EntityStore struct {
	db   *bun.DB
	repo repository.Repository[*trackedEntityRecord]
}

func NewEntityStore(db *bun.DB) (*EntityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*trackedEntityRecord](db, trackedEntityHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid tracked entity repository wiring: %w", err)
		}
	}
	return &EntityStore{db: db, repo: repo}, nil
}

func (s *EntityStore) Get(ctx context.Context, entityKey string) (core.Entity, error) {
	if s == nil || s.db == nil {
		return core.Entity{}, fmt.Errorf("sqlstore: entity store is not configured")
	}
	record := &trackedEntityRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.entity_key = ?", strings.TrimSpace(entityKey)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Entity{}, core.ErrEntityNotFound
		}
		return core.Entity{}, err
	}
	return trackedEntityToDomain(record), nil
}

func (s *EntityStore) Upsert(ctx context.Context, in core.UpsertEntityInput) (core.Entity, error) {
	if s == nil || s.db == nil {
		return core.Entity{}, fmt.Errorf("sqlstore: entity store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.Entity{}, err
	}

	now := time.Now().UTC()
	snapshot := in.Snapshot
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	// Append events can arrive without a source timestamp; pin one so
	// the conflict guard always compares real values.
	sourceUpdatedAt := in.SourceUpdatedAt.UTC()
	if in.SourceUpdatedAt.IsZero() {
		sourceUpdatedAt = now
	}
	record := &trackedEntityRecord{
		ID:              uuid.NewString(),
		EntityKey:       strings.TrimSpace(in.EntityKey),
		Source:          string(in.Source),
		Category:        strings.TrimSpace(in.Category),
		Title:           in.Title,
		State:           in.State,
		Assignee:        in.Assignee,
		URL:             in.URL,
		Snapshot:        snapshot,
		SourceUpdatedAt: sourceUpdatedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (entity_key) DO UPDATE").
		Set("source = EXCLUDED.source").
		Set("category = EXCLUDED.category").
		Set("title = EXCLUDED.title").
		Set("state = EXCLUDED.state").
		Set("assignee = EXCLUDED.assignee").
		Set("url = EXCLUDED.url").
		Set("snapshot = EXCLUDED.snapshot").
		Set("source_updated_at = EXCLUDED.source_updated_at").
		Set("updated_at = EXCLUDED.updated_at").
		Where("EXCLUDED.source_updated_at >= ?TableAlias.source_updated_at").
		Exec(ctx)
	if err != nil {
		return core.Entity{}, err
	}
	return s.Get(ctx, in.EntityKey)
}

func (s *EntityStore) LastSourceUpdate(ctx context.Context, entityKey string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, fmt.Errorf("sqlstore: entity store is not configured")
	}
	var updatedAt time.Time
	err := s.db.NewSelect().
		Model((*trackedEntityRecord)(nil)).
		Column("source_updated_at").
		Where("?TableAlias.entity_key = ?", strings.TrimSpace(entityKey)).
		Limit(1).
		Scan(ctx, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return updatedAt, true, nil
}

func trackedEntityToDomain(record *trackedEntityRecord) core.Entity {
	if record == nil {
		return core.Entity{}
	}
	return core.Entity{
		ID:              record.ID,
		EntityKey:       record.EntityKey,
		Source:          core.Source(record.Source),
		Category:        record.Category,
		Title:           record.Title,
		State:           record.State,
		Assignee:        record.Assignee,
		URL:             record.URL,
		Snapshot:        record.Snapshot,
		SourceUpdatedAt: record.SourceUpdatedAt,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

var _ core.EntityStore = (*EntityStore)(nil)
