package core

import (
	"fmt"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

// SourceConfig carries the per-upstream secrets and API coordinates.
// SignatureSecret authenticates inbound deliveries; APIToken
// authenticates outbound subscription management calls.
type SourceConfig struct {
	SignatureSecret string `koanf:"signature_secret" mapstructure:"signature_secret"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
	APIBaseURL      string `koanf:"api_base_url" mapstructure:"api_base_url"`
	APIToken        string `koanf:"api_token" mapstructure:"api_token"`
}

// RefreshConfig governs the subscription refresher. Secret is the
// bearer token for the refresh trigger endpoint and is deliberately
// distinct from the per-event signature secrets.
type RefreshConfig struct {
	Secret      string        `koanf:"secret" mapstructure:"secret"`
	CallbackURL string        `koanf:"callback_url" mapstructure:"callback_url"`
	Interval    time.Duration `koanf:"interval" mapstructure:"interval"`
}

type RedisConfig struct {
	Addr          string `koanf:"addr" mapstructure:"addr"`
	ChannelPrefix string `koanf:"channel_prefix" mapstructure:"channel_prefix"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
	Tracker     SourceConfig   `koanf:"tracker" mapstructure:"tracker"`
	VCS         SourceConfig   `koanf:"vcs" mapstructure:"vcs"`
	Refresh     RefreshConfig  `koanf:"refresh" mapstructure:"refresh"`
	Redis       RedisConfig    `koanf:"redis" mapstructure:"redis"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "ingest",
		HTTP:        HTTPConfig{Addr: ":8080"},
		Tracker:     SourceConfig{SignatureHeader: "X-Tracker-Signature"},
		VCS:         SourceConfig{SignatureHeader: "X-Hub-Signature-256"},
		Refresh:     RefreshConfig{Interval: 25 * 24 * time.Hour},
		Redis:       RedisConfig{ChannelPrefix: "dashboard"},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:ingest.db?cache=shared&_foreign_keys=on",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("core: http.addr is required")
	}
	return nil
}

// SourceConfigFor returns the config block for one upstream.
func (c Config) SourceConfigFor(source Source) (SourceConfig, error) {
	switch source {
	case SourceTracker:
		return c.Tracker, nil
	case SourceVCS:
		return c.VCS, nil
	default:
		return SourceConfig{}, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
}
