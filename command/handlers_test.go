package command

import (
	"context"
	"net/http"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/pipeline"
)

type stubDeadLetterStore struct {
	entries map[string]core.DeadLetter
}

func (s stubDeadLetterStore) Record(_ context.Context, entry core.DeadLetter) (core.DeadLetter, error) {
	return entry, nil
}

func (s stubDeadLetterStore) Get(_ context.Context, id string) (core.DeadLetter, error) {
	entry, ok := s.entries[id]
	if !ok {
		return core.DeadLetter{}, core.ErrDeadLetterNotFound
	}
	return entry, nil
}

func (s stubDeadLetterStore) ListUnreplayed(context.Context, int) ([]core.DeadLetter, error) {
	return nil, nil
}

func (s stubDeadLetterStore) MarkReplayed(context.Context, string, time.Time) error {
	return nil
}

type stubReplayer struct {
	replayed []core.DeadLetter
	outcome  pipeline.Outcome
	err      error
}

func (s *stubReplayer) Replay(_ context.Context, entry core.DeadLetter) (pipeline.Outcome, error) {
	s.replayed = append(s.replayed, entry)
	return s.outcome, s.err
}

func TestReplayDeadLetterCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	entry := core.DeadLetter{
		ID:        "dl-1",
		Source:    core.SourceTracker,
		EventType: "issue:updated",
		EventID:   "evt-1",
	}
	replayer := &stubReplayer{
		outcome: pipeline.Outcome{
			Status:     pipeline.StatusProcessed,
			StatusCode: http.StatusOK,
			EventID:    "evt-1",
		},
	}
	cmd := NewReplayDeadLetterCommand(
		stubDeadLetterStore{entries: map[string]core.DeadLetter{"dl-1": entry}},
		replayer,
	)

	collector := gocmd.NewResult[pipeline.Outcome]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, ReplayDeadLetterMessage{DeadLetterID: "dl-1"}); err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if len(replayer.replayed) != 1 || replayer.replayed[0].ID != "dl-1" {
		t.Fatalf("expected replay of dl-1, got %+v", replayer.replayed)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Status != pipeline.StatusProcessed || result.EventID != "evt-1" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestReplayDeadLetterCommand_UnknownEntry(t *testing.T) {
	cmd := NewReplayDeadLetterCommand(stubDeadLetterStore{entries: map[string]core.DeadLetter{}}, &stubReplayer{})
	err := cmd.Execute(context.Background(), ReplayDeadLetterMessage{DeadLetterID: "missing"})
	if err != core.ErrDeadLetterNotFound {
		t.Fatalf("expected ErrDeadLetterNotFound, got %v", err)
	}
}

func TestReplayDeadLetterCommand_ValidatesMessage(t *testing.T) {
	cmd := NewReplayDeadLetterCommand(stubDeadLetterStore{}, &stubReplayer{})
	err := cmd.Execute(context.Background(), ReplayDeadLetterMessage{})
	if err == nil {
		t.Fatalf("expected validation error for blank id")
	}
	if core.TextCode(err) != core.IngestErrorInvalidPayload {
		t.Fatalf("expected %s, got %s", core.IngestErrorInvalidPayload, core.TextCode(err))
	}
}

func TestReplayDeadLetterCommand_MissingDependencies(t *testing.T) {
	var cmd *ReplayDeadLetterCommand
	if err := cmd.Execute(context.Background(), ReplayDeadLetterMessage{DeadLetterID: "dl-1"}); err == nil {
		t.Fatalf("expected dependency error from nil command")
	}
}

func TestRefreshSubscriptionsCommand_RejectsUnknownSource(t *testing.T) {
	cmd := NewRefreshSubscriptionsCommand(nil)
	if err := cmd.Execute(context.Background(), RefreshSubscriptionsMessage{Source: core.SourceTracker}); err == nil {
		t.Fatalf("expected dependency error with no refreshers")
	}
}

func TestRefreshSubscriptionsMessage_Validate(t *testing.T) {
	if err := (RefreshSubscriptionsMessage{Source: core.SourceVCS}).Validate(); err != nil {
		t.Fatalf("vcs source must validate: %v", err)
	}
	if err := (RefreshSubscriptionsMessage{Source: "zen"}).Validate(); err == nil {
		t.Fatalf("unknown source must fail validation")
	}
}
