package core

import (
	"context"
	"testing"
	"time"
)

func TestCfgxConfigProviderLoad_LayersRawOverDefaults(t *testing.T) {
	provider := NewCfgxConfigProvider(NewStaticRawConfigLoader(map[string]any{
		"service_name": "ingest-loaded",
		"tracker": map[string]any{
			"signature_secret": "tracker-secret",
		},
	}))

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "ingest-loaded" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.Tracker.SignatureSecret != "tracker-secret" {
		t.Fatalf("expected loaded tracker secret, got %q", cfg.Tracker.SignatureSecret)
	}
	// Untouched fields keep their defaults.
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Tracker.SignatureHeader != "X-Tracker-Signature" {
		t.Fatalf("expected default tracker header, got %q", cfg.Tracker.SignatureHeader)
	}
}

func TestCfgxConfigProviderLoad_RejectsInvalidConfig(t *testing.T) {
	provider := NewCfgxConfigProvider(nil)
	if _, err := provider.Load(context.Background(), Config{}); err == nil {
		t.Fatal("expected validation error for empty defaults")
	}
}

func TestResolveConfig_RuntimeWinsOverLoadedOverDefaults(t *testing.T) {
	defaults := DefaultConfig()

	loaded := defaults
	loaded.HTTP.Addr = ":9090"
	loaded.Tracker.SignatureSecret = "loaded-secret"
	loaded.Database.Driver = "postgres"
	loaded.Database.DSN = "postgres://localhost/ingest"

	var runtime Config
	runtime.HTTP.Addr = ":7070"

	resolved, err := ResolveConfig(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.HTTP.Addr != ":7070" {
		t.Fatalf("expected runtime addr to win, got %q", resolved.HTTP.Addr)
	}
	if resolved.Tracker.SignatureSecret != "loaded-secret" {
		t.Fatalf("expected loaded secret to survive, got %q", resolved.Tracker.SignatureSecret)
	}
	if resolved.Database.Driver != "postgres" || resolved.Database.DSN != "postgres://localhost/ingest" {
		t.Fatalf("expected loaded database settings, got %#v", resolved.Database)
	}
	// Fields no layer touches come from defaults.
	if resolved.Redis.ChannelPrefix != "dashboard" {
		t.Fatalf("expected default channel prefix, got %q", resolved.Redis.ChannelPrefix)
	}
	if resolved.Refresh.Interval != 25*24*time.Hour {
		t.Fatalf("expected default refresh interval, got %v", resolved.Refresh.Interval)
	}
}

func TestResolveConfig_EmptyRuntimeLayerChangesNothing(t *testing.T) {
	defaults := DefaultConfig()

	loaded := defaults
	loaded.ServiceName = "ingest-loaded"
	loaded.Redis.Addr = "localhost:6379"

	resolved, err := ResolveConfig(defaults, loaded, Config{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ServiceName != "ingest-loaded" {
		t.Fatalf("expected loaded service name, got %q", resolved.ServiceName)
	}
	if resolved.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected loaded redis addr, got %q", resolved.Redis.Addr)
	}
	if resolved.Database.Driver != defaults.Database.Driver {
		t.Fatalf("expected default database driver, got %q", resolved.Database.Driver)
	}
}

func TestResolveConfig_RejectsInvalidResolution(t *testing.T) {
	var empty Config
	if _, err := ResolveConfig(empty, empty, empty); err == nil {
		t.Fatal("expected validation error when no layer supplies required fields")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}

	missingName := DefaultConfig()
	missingName.ServiceName = "  "
	if err := missingName.Validate(); err == nil {
		t.Fatal("expected error for blank service name")
	}

	missingAddr := DefaultConfig()
	missingAddr.HTTP.Addr = ""
	if err := missingAddr.Validate(); err == nil {
		t.Fatal("expected error for blank http addr")
	}
}
