package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/projectpulse/ingest/core"
)

// HealthStore keeps one row per service name, overwritten on every run.
type HealthStore struct {
	db   *bun.DB
	repo repository.Repository[*serviceHealthRecord]
}

func NewHealthStore(db *bun.DB) (*HealthStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*serviceHealthRecord](db, serviceHealthHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid service health repository wiring: %w", err)
		}
	}
	return &HealthStore{db: db, repo: repo}, nil
}

func (s *HealthStore) Upsert(ctx context.Context, record core.HealthRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: health store is not configured")
	}
	service := strings.TrimSpace(record.Service)
	if service == "" {
		return fmt.Errorf("sqlstore: health service name is required")
	}
	row := &serviceHealthRecord{
		ID:        uuid.NewString(),
		Service:   service,
		Status:    string(record.Status),
		Detail:    record.Detail,
		CheckedAt: record.CheckedAt.UTC(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (service) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("detail = EXCLUDED.detail").
		Set("checked_at = EXCLUDED.checked_at").
		Exec(ctx)
	return err
}

func (s *HealthStore) Get(ctx context.Context, service string) (core.HealthRecord, error) {
	if s == nil || s.db == nil {
		return core.HealthRecord{}, fmt.Errorf("sqlstore: health store is not configured")
	}
	record := &serviceHealthRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.service = ?", strings.TrimSpace(service)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.HealthRecord{}, fmt.Errorf("sqlstore: no health record for service %q", service)
		}
		return core.HealthRecord{}, err
	}
	return core.HealthRecord{
		Service:   record.Service,
		Status:    core.HealthStatus(record.Status),
		Detail:    record.Detail,
		CheckedAt: record.CheckedAt,
	}, nil
}

var _ core.HealthStore = (*HealthStore)(nil)
