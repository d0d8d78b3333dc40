package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolveConfig layers defaults < loaded < runtime the way all ingest
// configuration is merged, using a go-options stack.
func ResolveConfig(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.HTTP.Addr) != "" {
		layer["http"] = map[string]any{"addr": cfg.HTTP.Addr}
	}
	if source := sourceLayerMap(cfg.Tracker, includeZero); source != nil {
		layer["tracker"] = source
	}
	if source := sourceLayerMap(cfg.VCS, includeZero); source != nil {
		layer["vcs"] = source
	}
	if includeZero || strings.TrimSpace(cfg.Refresh.Secret) != "" ||
		strings.TrimSpace(cfg.Refresh.CallbackURL) != "" || cfg.Refresh.Interval > 0 {
		layer["refresh"] = map[string]any{
			"secret":       cfg.Refresh.Secret,
			"callback_url": cfg.Refresh.CallbackURL,
			"interval":     cfg.Refresh.Interval,
		}
	}
	if includeZero || strings.TrimSpace(cfg.Redis.Addr) != "" ||
		strings.TrimSpace(cfg.Redis.ChannelPrefix) != "" {
		layer["redis"] = map[string]any{
			"addr":           cfg.Redis.Addr,
			"channel_prefix": cfg.Redis.ChannelPrefix,
		}
	}
	if includeZero || strings.TrimSpace(cfg.Database.Driver) != "" ||
		strings.TrimSpace(cfg.Database.DSN) != "" {
		layer["database"] = map[string]any{
			"driver": cfg.Database.Driver,
			"dsn":    cfg.Database.DSN,
		}
	}
	return layer
}

func sourceLayerMap(cfg SourceConfig, includeZero bool) map[string]any {
	empty := strings.TrimSpace(cfg.SignatureSecret) == "" &&
		strings.TrimSpace(cfg.SignatureHeader) == "" &&
		strings.TrimSpace(cfg.APIBaseURL) == "" &&
		strings.TrimSpace(cfg.APIToken) == ""
	if empty && !includeZero {
		return nil
	}
	return map[string]any{
		"signature_secret": cfg.SignatureSecret,
		"signature_header": cfg.SignatureHeader,
		"api_base_url":     cfg.APIBaseURL,
		"api_token":        cfg.APIToken,
	}
}
