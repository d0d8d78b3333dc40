package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/pipeline"
	"github.com/projectpulse/ingest/schema"
)

type nilDeadLetterStore struct{}

func (nilDeadLetterStore) Record(_ context.Context, entry core.DeadLetter) (core.DeadLetter, error) {
	return entry, nil
}

func (nilDeadLetterStore) Get(context.Context, string) (core.DeadLetter, error) {
	return core.DeadLetter{}, core.ErrDeadLetterNotFound
}

func (nilDeadLetterStore) ListUnreplayed(context.Context, int) ([]core.DeadLetter, error) {
	return nil, nil
}

func (nilDeadLetterStore) MarkReplayed(context.Context, string, time.Time) error {
	return nil
}

func TestNewFacadeRequiresProcessorAndStore(t *testing.T) {
	if _, err := NewFacade(nil, nilDeadLetterStore{}, nil); err == nil {
		t.Fatalf("expected error without processor")
	}

	processor := pipeline.NewProcessor(nil, schema.DefaultRegistry(), nil, nil, nil)
	if _, err := NewFacade(processor, nil, nil); err == nil {
		t.Fatalf("expected error without dead letter store")
	}

	facade, err := NewFacade(processor, nilDeadLetterStore{}, nil)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Processor() != processor {
		t.Fatalf("expected processor accessor")
	}
	if facade.Commands().ReplayDeadLetter == nil || facade.Commands().RefreshSubscriptions == nil {
		t.Fatalf("expected wired commands")
	}
}

func TestMigrationsFSContainsBothDialects(t *testing.T) {
	fsys := GetMigrationsFS()
	for _, path := range []string{
		"data/sql/migrations/20260801000000_create_ingest_tables.up.sql",
		"data/sql/migrations/sqlite/20260801000000_create_ingest_tables.up.sql",
	} {
		if _, err := fsys.Open(path); err != nil {
			t.Fatalf("expected embedded migration %s: %v", path, err)
		}
	}
}
