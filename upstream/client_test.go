package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/projectpulse/ingest/core"
)

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var requests []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/check", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{
				"id":          "sub-1",
				"callbackUrl": "https://ingest.example.com/webhooks/tracker",
				"expiresAt":   "2026-09-01T00:00:00Z",
			},
		})
	})
	mux.HandleFunc("POST /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		var doc map[string]string
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":          "sub-2",
			"callbackUrl": doc["callbackUrl"],
			"expiresAt":   doc["expiresAt"],
		})
	})
	mux.HandleFunc("DELETE /subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &requests
}

func TestClientAuthenticate(t *testing.T) {
	server, _ := newTestServer(t)
	client := NewClient(core.SourceTracker, server.URL, "tok-1")
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
}

func TestClientAuthenticateRejectsBadToken(t *testing.T) {
	server, _ := newTestServer(t)
	client := NewClient(core.SourceTracker, server.URL, "wrong")
	err := client.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected auth failure")
	}
	if code := core.TextCode(err); code != core.IngestErrorUnauthorized {
		t.Fatalf("expected %s, got %s", core.IngestErrorUnauthorized, code)
	}
}

func TestClientAuthenticateRequiresToken(t *testing.T) {
	client := NewClient(core.SourceTracker, "https://tracker.example.com", "")
	err := client.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected config error")
	}
	if code := core.TextCode(err); code != core.IngestErrorConfig {
		t.Fatalf("expected %s, got %s", core.IngestErrorConfig, code)
	}
}

func TestClientListSubscriptions(t *testing.T) {
	server, _ := newTestServer(t)
	client := NewClient(core.SourceTracker, server.URL, "tok-1")

	subs, err := client.ListSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ListSubscriptions returned error: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0].ID != "sub-1" || subs[0].Source != core.SourceTracker {
		t.Fatalf("unexpected subscription %+v", subs[0])
	}
	if subs[0].ExpiresAt == nil || !subs[0].ExpiresAt.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", subs[0].ExpiresAt)
	}
}

func TestClientRegisterSubscription(t *testing.T) {
	server, requests := newTestServer(t)
	client := NewClient(core.SourceTracker, server.URL, "tok-1")

	expiry := time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC)
	sub, err := client.RegisterSubscription(context.Background(),
		"https://ingest.example.com/webhooks/tracker", expiry)
	if err != nil {
		t.Fatalf("RegisterSubscription returned error: %v", err)
	}
	if sub.ID != "sub-2" {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if sub.ExpiresAt == nil || !sub.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected expiry %v", sub.ExpiresAt)
	}
	if len(*requests) != 1 || (*requests)[0] != "POST /subscriptions" {
		t.Fatalf("unexpected requests %v", *requests)
	}
}

func TestClientDeleteSubscription(t *testing.T) {
	server, requests := newTestServer(t)
	client := NewClient(core.SourceTracker, server.URL, "tok-1")

	if err := client.DeleteSubscription(context.Background(), "sub-1"); err != nil {
		t.Fatalf("DeleteSubscription returned error: %v", err)
	}
	if len(*requests) != 1 || (*requests)[0] != "DELETE /subscriptions/sub-1" {
		t.Fatalf("unexpected requests %v", *requests)
	}
}

func TestClientServerErrorSurfacesAsExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := NewClient(core.SourceVCS, server.URL, "tok-1")
	_, err := client.ListSubscriptions(context.Background())
	if err == nil {
		t.Fatal("expected error for 5xx response")
	}
}
