package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/projectpulse/ingest/adapters/gologger"
	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/httpapi"
	ingestmigrations "github.com/projectpulse/ingest/migrations"
	"github.com/projectpulse/ingest/notify"
	"github.com/projectpulse/ingest/pipeline"
	"github.com/projectpulse/ingest/refresh"
	ingestschema "github.com/projectpulse/ingest/schema"
	"github.com/projectpulse/ingest/signature"
	sqlstore "github.com/projectpulse/ingest/store/sql"
	"github.com/projectpulse/ingest/upstream"
)

const envPrefix = "INGEST_"

func main() {
	if err := run(); err != nil {
		slog.Error("ingestd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var addrFlag, driverFlag, dsnFlag string
	flag.StringVar(&addrFlag, "addr", "", "listen address, overrides environment and defaults")
	flag.StringVar(&driverFlag, "db-driver", "", "database driver, overrides environment and defaults")
	flag.StringVar(&dsnFlag, "db-dsn", "", "database DSN, overrides environment and defaults")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := gologger.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	telemetry := core.NewTelemetry("ingest", nil, logger)

	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(envConfigLoader{}).Load(ctx, defaults)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := core.ResolveConfig(defaults, loaded, runtimeOverrides(addrFlag, driverFlag, dsnFlag))
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}
	telemetry.Info(ctx, "ingestd starting", map[string]any{
		"service": cfg.ServiceName,
		"addr":    cfg.HTTP.Addr,
		"driver":  cfg.Database.Driver,
	})

	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}

	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return fmt.Errorf("build cache service: %w", err)
	}
	entities, err := sqlstore.NewCachedEntityStore(factory.EntityStore(), cacheService)
	if err != nil {
		return fmt.Errorf("build cached entity store: %w", err)
	}

	var broadcaster core.Broadcaster = notify.NewMemoryBroadcaster()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisBroadcaster := notify.NewRedisBroadcaster(redis.NewClient(&redis.Options{Addr: addr}))
		defer redisBroadcaster.Close()
		broadcaster = redisBroadcaster
		telemetry.Info(ctx, "redis broadcaster enabled", map[string]any{"addr": addr})
	}

	fanout := notify.NewFanout(entities, broadcaster)
	fanout.ChannelPrefix = cfg.Redis.ChannelPrefix
	fanout.Telemetry = telemetry

	processor := pipeline.NewProcessor(
		buildVerifiers(cfg),
		ingestschema.DefaultRegistry(),
		factory.EventLedgerStore(),
		entities,
		factory.DeadLetterStore(),
	)
	processor.Health = factory.HealthStore()
	processor.Notifier = fanout
	processor.Operator = notify.LogOperatorNotifier{Telemetry: telemetry}
	processor.Telemetry = telemetry

	refreshers := buildRefreshers(cfg, factory, telemetry)
	if len(refreshers) > 0 {
		queue := refresh.NewMemoryQueue(64)
		scheduler := &refresh.Scheduler{
			Enqueuer:  queue,
			Sources:   refresherSources(refreshers),
			Interval:  cfg.Refresh.Interval,
			Telemetry: telemetry,
		}
		runner := &refresh.Runner{
			Dequeuer:   queue,
			Refreshers: refreshers,
			Telemetry:  telemetry,
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				telemetry.Error(ctx, "refresh scheduler stopped", map[string]any{"error": err.Error()})
			}
		}()
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				telemetry.Error(ctx, "refresh runner stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.SetupRoutes(
		router,
		httpapi.NewWebhookHandler(processor, telemetry),
		httpapi.NewRefreshHandler(cfg.Refresh.Secret, refreshers, telemetry),
	)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		telemetry.Info(ctx, "http server listening", map[string]any{"addr": cfg.HTTP.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	telemetry.Info(context.Background(), "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openPersistence(ctx context.Context, cfg core.Config) (*persistence.Client, error) {
	var dialect schema.Dialect
	var target string
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "postgres", "pq":
		dialect = pgdialect.New()
		target = ingestmigrations.DialectPostgres
	case "sqlite3", "sqlite":
		dialect = sqlitedialect.New()
		target = ingestmigrations.DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	driverName := "sqlite3"
	if target == ingestmigrations.DialectPostgres {
		driverName = "postgres"
	}
	sqlDB, err := sql.Open(driverName, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = ingestmigrations.Register(ctx, func(_ context.Context, migrationDialect string, _ string, fsys fs.FS) error {
		if migrationDialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, ingestmigrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func buildVerifiers(cfg core.Config) map[core.Source]signature.Verifier {
	verifiers := map[core.Source]signature.Verifier{}
	if header := strings.TrimSpace(cfg.Tracker.SignatureHeader); header != "" {
		verifiers[core.SourceTracker] = signature.NewHeaderHMACVerifier(header, cfg.Tracker.SignatureSecret)
	}
	if header := strings.TrimSpace(cfg.VCS.SignatureHeader); header != "" {
		verifiers[core.SourceVCS] = signature.NewHeaderHMACVerifier(header, cfg.VCS.SignatureSecret)
	}
	return verifiers
}

func buildRefreshers(cfg core.Config, factory *sqlstore.RepositoryFactory, telemetry *core.Telemetry) map[core.Source]*refresh.Refresher {
	refreshers := map[core.Source]*refresh.Refresher{}
	for _, source := range []core.Source{core.SourceTracker, core.SourceVCS} {
		sourceCfg, err := cfg.SourceConfigFor(source)
		if err != nil || strings.TrimSpace(sourceCfg.APIBaseURL) == "" {
			continue
		}
		client := upstream.NewClient(source, sourceCfg.APIBaseURL, sourceCfg.APIToken)
		refresher := refresh.NewRefresher(source, client, cfg.Refresh.CallbackURL, cfg.Refresh.Interval)
		refresher.DeadLetters = factory.DeadLetterStore()
		refresher.Health = factory.HealthStore()
		refresher.Telemetry = telemetry
		refreshers[source] = refresher
	}
	return refreshers
}

// runtimeOverrides builds the highest-precedence configuration layer
// from command-line flags. Empty flags contribute nothing.
func runtimeOverrides(addr, driver, dsn string) core.Config {
	var cfg core.Config
	cfg.HTTP.Addr = strings.TrimSpace(addr)
	cfg.Database.Driver = strings.TrimSpace(driver)
	cfg.Database.DSN = strings.TrimSpace(dsn)
	return cfg
}

func refresherSources(refreshers map[core.Source]*refresh.Refresher) []core.Source {
	sources := make([]core.Source, 0, len(refreshers))
	for source := range refreshers {
		sources = append(sources, source)
	}
	return sources
}

type persistenceConfig struct {
	cfg core.Config
}

func (c persistenceConfig) GetDebug() bool {
	return false
}

func (c persistenceConfig) GetDriver() string {
	return c.cfg.Database.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.cfg.Database.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return c.cfg.ServiceName
}

// envConfigLoader maps INGEST_* environment variables onto the nested
// configuration shape. Unset variables leave defaults untouched.
type envConfigLoader struct{}

func (envConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	setString(raw, "service_name", env("SERVICE_NAME"))

	setNested(raw, "http", map[string]string{
		"addr": env("HTTP_ADDR"),
	})
	setNested(raw, "tracker", map[string]string{
		"signature_secret": env("TRACKER_SIGNATURE_SECRET"),
		"signature_header": env("TRACKER_SIGNATURE_HEADER"),
		"api_base_url":     env("TRACKER_API_BASE_URL"),
		"api_token":        env("TRACKER_API_TOKEN"),
	})
	setNested(raw, "vcs", map[string]string{
		"signature_secret": env("VCS_SIGNATURE_SECRET"),
		"signature_header": env("VCS_SIGNATURE_HEADER"),
		"api_base_url":     env("VCS_API_BASE_URL"),
		"api_token":        env("VCS_API_TOKEN"),
	})
	setNested(raw, "redis", map[string]string{
		"addr":           env("REDIS_ADDR"),
		"channel_prefix": env("REDIS_CHANNEL_PREFIX"),
	})
	setNested(raw, "database", map[string]string{
		"driver": env("DB_DRIVER"),
		"dsn":    env("DB_DSN"),
	})

	refreshValues := map[string]any{}
	if secret := env("REFRESH_SECRET"); secret != "" {
		refreshValues["secret"] = secret
	}
	if callback := env("REFRESH_CALLBACK_URL"); callback != "" {
		refreshValues["callback_url"] = callback
	}
	if interval := env("REFRESH_INTERVAL"); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("parse %sREFRESH_INTERVAL: %w", envPrefix, err)
		}
		refreshValues["interval"] = parsed
	}
	if len(refreshValues) > 0 {
		raw["refresh"] = refreshValues
	}

	return raw, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func setString(raw map[string]any, key string, value string) {
	if value != "" {
		raw[key] = value
	}
}

func setNested(raw map[string]any, key string, values map[string]string) {
	nested := map[string]any{}
	for name, value := range values {
		if value != "" {
			nested[name] = value
		}
	}
	if len(nested) > 0 {
		raw[key] = nested
	}
}
