package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/projectpulse/ingest/core"
)

type stubUpstreamAPI struct {
	mu sync.Mutex

	authErr     error
	listErr     error
	registerErr error
	deleteErr   error

	subscriptions []core.Subscription
	calls         []string
	deleted       []string
}

func (s *stubUpstreamAPI) Authenticate(context.Context) error {
	s.record("authenticate")
	return s.authErr
}

func (s *stubUpstreamAPI) ListSubscriptions(context.Context) ([]core.Subscription, error) {
	s.record("list")
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]core.Subscription(nil), s.subscriptions...), nil
}

func (s *stubUpstreamAPI) RegisterSubscription(_ context.Context, callbackURL string, expiresAt time.Time) (core.Subscription, error) {
	s.record("register")
	if s.registerErr != nil {
		return core.Subscription{}, s.registerErr
	}
	expiry := expiresAt
	sub := core.Subscription{
		ID:          fmt.Sprintf("sub-new-%d", len(s.calls)),
		CallbackURL: callbackURL,
		ExpiresAt:   &expiry,
	}
	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *stubUpstreamAPI) DeleteSubscription(_ context.Context, id string) error {
	s.record("delete")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	s.deleted = append(s.deleted, id)
	s.mu.Unlock()
	return nil
}

func (s *stubUpstreamAPI) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

type capturingDeadLetterStore struct {
	mu      sync.Mutex
	entries []core.DeadLetter
}

func (s *capturingDeadLetterStore) Record(_ context.Context, entry core.DeadLetter) (core.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = fmt.Sprintf("dl-%d", len(s.entries)+1)
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *capturingDeadLetterStore) Get(context.Context, string) (core.DeadLetter, error) {
	return core.DeadLetter{}, core.ErrDeadLetterNotFound
}

func (s *capturingDeadLetterStore) ListUnreplayed(context.Context, int) ([]core.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.DeadLetter(nil), s.entries...), nil
}

func (s *capturingDeadLetterStore) MarkReplayed(context.Context, string, time.Time) error {
	return nil
}

type capturingHealthStore struct {
	mu      sync.Mutex
	records map[string]core.HealthRecord
}

func (s *capturingHealthStore) Upsert(_ context.Context, record core.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = map[string]core.HealthRecord{}
	}
	s.records[record.Service] = record
	return nil
}

func (s *capturingHealthStore) Get(_ context.Context, service string) (core.HealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[service]
	if !ok {
		return core.HealthRecord{}, errors.New("no health record")
	}
	return record, nil
}

const callbackURL = "https://ingest.example.com/webhooks/tracker"

func newTestRefresher(api *stubUpstreamAPI) (*Refresher, *capturingDeadLetterStore, *capturingHealthStore) {
	deadLetters := &capturingDeadLetterStore{}
	health := &capturingHealthStore{}
	refresher := NewRefresher(core.SourceTracker, api, callbackURL, 25*24*time.Hour)
	refresher.DeadLetters = deadLetters
	refresher.Health = health
	return refresher, deadLetters, health
}

func TestRefresherRegistersBeforeDeletingStale(t *testing.T) {
	api := &stubUpstreamAPI{
		subscriptions: []core.Subscription{
			{ID: "sub-old", CallbackURL: callbackURL},
		},
	}
	refresher, _, health := newTestRefresher(api)

	result, err := refresher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.SubscriptionID == "" || result.Expiry == nil {
		t.Fatalf("incomplete result %+v", result)
	}

	registerIdx, deleteIdx := -1, -1
	for i, call := range api.calls {
		switch call {
		case "register":
			registerIdx = i
		case "delete":
			deleteIdx = i
		}
	}
	if registerIdx == -1 || deleteIdx == -1 {
		t.Fatalf("expected register and delete calls, got %v", api.calls)
	}
	if deleteIdx < registerIdx {
		t.Fatalf("stale deletion ran before registration: %v", api.calls)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "sub-old" {
		t.Fatalf("expected sub-old deleted, got %v", api.deleted)
	}

	record, err := health.Get(context.Background(), "tracker:refresh")
	if err != nil {
		t.Fatalf("health record missing: %v", err)
	}
	if record.Status != core.HealthStatusHealthy {
		t.Fatalf("expected healthy, got %s", record.Status)
	}
}

func TestRefresherSkipsForeignSubscriptions(t *testing.T) {
	api := &stubUpstreamAPI{
		subscriptions: []core.Subscription{
			{ID: "sub-other", CallbackURL: "https://elsewhere.example.com/hook"},
		},
	}
	refresher, _, _ := newTestRefresher(api)

	if _, err := refresher.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(api.deleted) != 0 {
		t.Fatalf("foreign subscriptions must not be deleted: %v", api.deleted)
	}
}

func TestRefresherRegistrationFailureKeepsExistingSubscription(t *testing.T) {
	api := &stubUpstreamAPI{
		subscriptions: []core.Subscription{
			{ID: "sub-old", CallbackURL: callbackURL},
		},
		registerErr: errors.New("upstream 503"),
	}
	refresher, deadLetters, health := newTestRefresher(api)

	result, err := refresher.Run(context.Background())
	if err == nil {
		t.Fatal("expected registration failure")
	}
	if result.Status != StatusFailure {
		t.Fatalf("expected failure, got %s", result.Status)
	}
	if len(api.deleted) != 0 {
		t.Fatal("existing subscription must survive a failed registration")
	}

	entries, _ := deadLetters.ListUnreplayed(context.Background(), 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(entries))
	}
	if entries[0].EventType != "webhook:refresh" {
		t.Fatalf("unexpected dead letter event type %q", entries[0].EventType)
	}

	record, err := health.Get(context.Background(), "tracker:refresh")
	if err != nil {
		t.Fatalf("health record missing: %v", err)
	}
	if record.Status != core.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", record.Status)
	}
}

func TestRefresherStaleDeletionFailureIsNonFatal(t *testing.T) {
	api := &stubUpstreamAPI{
		subscriptions: []core.Subscription{
			{ID: "sub-old", CallbackURL: callbackURL},
		},
		deleteErr: errors.New("upstream 500"),
	}
	refresher, deadLetters, _ := newTestRefresher(api)

	result, err := refresher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success despite cleanup failure, got %s", result.Status)
	}
	entries, _ := deadLetters.ListUnreplayed(context.Background(), 0)
	if len(entries) != 0 {
		t.Fatal("cleanup failure must not dead-letter")
	}
}

func TestRefresherAuthFailure(t *testing.T) {
	api := &stubUpstreamAPI{authErr: errors.New("bad token")}
	refresher, deadLetters, _ := newTestRefresher(api)

	_, err := refresher.Run(context.Background())
	if err == nil {
		t.Fatal("expected auth failure")
	}
	for _, call := range api.calls {
		if call == "register" || call == "delete" {
			t.Fatalf("no mutation calls after auth failure, got %v", api.calls)
		}
	}
	entries, _ := deadLetters.ListUnreplayed(context.Background(), 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(entries))
	}
}

func TestRefresherRequiresCallbackURL(t *testing.T) {
	refresher := NewRefresher(core.SourceTracker, &stubUpstreamAPI{}, "  ", time.Hour)
	_, err := refresher.Run(context.Background())
	if err == nil {
		t.Fatal("expected config error")
	}
	if code := core.TextCode(err); code != core.IngestErrorConfig {
		t.Fatalf("expected %s, got %s", core.IngestErrorConfig, code)
	}
}
