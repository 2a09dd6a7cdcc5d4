package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/cache"
	"github.com/openfinance/datacenter/internal/calendar"
	"github.com/openfinance/datacenter/internal/collector"
	"github.com/openfinance/datacenter/internal/config"
	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/mapping"
	"github.com/openfinance/datacenter/internal/metrics"
	"github.com/openfinance/datacenter/internal/models"
	"github.com/openfinance/datacenter/internal/netx/ratelimit"
	"github.com/openfinance/datacenter/internal/source"
	"github.com/openfinance/datacenter/internal/store"
	"github.com/openfinance/datacenter/internal/task"
)

// app holds the assembled service: config, registries, storage, cache
// and instrumentation. Every command builds one.
type app struct {
	cfg      *config.Config
	cache    cache.Cache
	sources  *source.Registry
	tasks    *task.Registry
	mappings *mapping.Registry
	engine   *store.Engine
	tables   map[string]store.Table
	metrics  *metrics.Metrics
	health   *errs.HealthService
	cal      *calendar.Calendar
}

// newApp assembles the service from the config tree. Storage is optional:
// without a database_url the app runs with a discard saver (dry mode).
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)

	a := &app{
		cfg:      cfg,
		sources:  source.NewRegistry(),
		tasks:    task.NewRegistry(),
		mappings: mapping.NewRegistry(),
		metrics:  metrics.New(),
		health:   errs.NewHealthService(),
	}
	a.buildCache()
	a.registerSources()
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	a.buildCalendar(ctx)
	if err := a.loadCollectors(); err != nil {
		return nil, err
	}
	a.registerHealthChecks()
	return a, nil
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.File).Msg("log file unavailable, using stderr")
			return
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}
}

func (a *app) buildCache() {
	if !a.cfg.Cache.Enabled {
		return
	}
	if a.cfg.Cache.Backend == "redis" {
		c, err := cache.NewRedis(a.cfg.Cache.RedisURL, "datacenter")
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to memory cache")
			a.cache = cache.NewMemory(a.cfg.Cache.MaxSize)
			return
		}
		a.cache = c
		return
	}
	a.cache = cache.NewMemory(a.cfg.Cache.MaxSize)
}

func (a *app) registerSources() {
	for id, src := range a.cfg.Sources {
		if !src.Enabled {
			continue
		}
		a.sources.Register(source.Config{
			ID:        id,
			BaseURL:   src.BaseURL,
			APIKeyRef: src.APIKey,
			Timeout:   src.Timeout(),
			RateLimit: ratelimit.Policy{RequestsPerSecond: src.RateLimit},
			Headers:   src.Headers,
		}, source.Capabilities{})
	}
}

func (a *app) openStore(ctx context.Context) error {
	tables, err := store.LoadTables(flagTables)
	if err != nil {
		if os.IsNotExist(underlying(err)) {
			log.Warn().Str("path", flagTables).Msg("no table registry, storage disabled")
			return nil
		}
		return err
	}
	a.tables = tables

	if a.cfg.Storage.DatabaseURL == "" {
		log.Warn().Msg("no database_url configured, records will not be persisted")
		return nil
	}
	engine, err := store.Open(a.cfg.Storage.DatabaseURL, tables, store.Options{
		BatchSize: a.cfg.Storage.BatchInsertSize,
	})
	if err != nil {
		return err
	}
	if err := engine.EnsureSchema(ctx); err != nil {
		engine.Close()
		return err
	}
	a.engine = engine
	return nil
}

func underlying(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

func (a *app) buildCalendar(ctx context.Context) {
	tz := a.cfg.Storage.Timezone
	if a.engine == nil {
		a.cal = calendar.New(tz, nil)
		return
	}
	cal, err := calendar.FromDB(ctx, a.engine.DB(), tz, "SSE")
	if err != nil {
		log.Warn().Err(err).Msg("holiday table unavailable, using weekend-only calendar")
		a.cal = calendar.New(tz, nil)
		return
	}
	a.cal = cal
}

// loadCollectors reads every spec under the collectors directory and
// registers each as a runnable task.
func (a *app) loadCollectors() error {
	paths, err := filepath.Glob(filepath.Join(flagCollectors, "*.yaml"))
	if err != nil {
		return err
	}
	more, _ := filepath.Glob(filepath.Join(flagCollectors, "*.yml"))
	paths = append(paths, more...)
	sort.Strings(paths)
	if len(paths) == 0 {
		log.Warn().Str("dir", flagCollectors).Msg("no collector specs found")
	}

	for _, path := range paths {
		spec, err := collector.LoadSpec(path)
		if err != nil {
			return fmt.Errorf("collector spec %s: %w", path, err)
		}
		opts := collector.BuildOptions{Cache: a.cache, Mappings: a.mappings}
		if entry, err := a.sources.Get(spec.Source); err == nil {
			opts.BaseURL = entry.Config.BaseURL
			opts.APIKey = entry.Config.APIKeyRef
			opts.Health = entry.Health
			a.sources.ExtendCapabilities(spec.Source, spec.DataType, spec.Frequency)
		}
		if _, err := task.FromSpec(a.tasks, spec, opts, a.saverFor(spec), task.Metadata{
			Description: spec.Name,
			Schedule:    spec.Metadata["schedule"],
		}); err != nil {
			return fmt.Errorf("collector spec %s: %w", path, err)
		}
		log.Debug().Str("collector", spec.CollectorID).Str("source", spec.Source).Msg("collector registered")
	}
	return nil
}

// saverFor binds a collector's target table to the storage engine,
// instrumented. Specs without a table, or runs without a database, count
// records instead of persisting.
func (a *app) saverFor(spec *collector.Spec) task.Saver {
	table := spec.Metadata["table"]
	if a.engine == nil || table == "" {
		return task.DiscardSaver
	}
	return task.SaverFunc(func(ctx context.Context, records []map[string]interface{}) (int, error) {
		start := time.Now()
		n, err := a.engine.Save(ctx, table, records)
		if err == nil {
			a.metrics.ObserveWrite(table, n, time.Since(start))
		}
		return n, err
	})
}

func (a *app) registerHealthChecks() {
	if a.engine != nil {
		db := a.engine.DB()
		a.health.RegisterCheck("postgres", func(ctx context.Context) errs.HealthStatus {
			if err := db.PingContext(ctx); err != nil {
				return errs.HealthStatus{Healthy: false, Detail: err.Error()}
			}
			return errs.HealthStatus{Healthy: true}
		})
	}
	a.health.RegisterCheck("sources", func(ctx context.Context) errs.HealthStatus {
		unavailable := 0
		for id, snap := range a.sources.Snapshots() {
			a.metrics.SetSourceStatus(id, string(snap.Status))
			if snap.Status == source.StatusUnavailable {
				unavailable++
			}
		}
		if unavailable > 0 {
			return errs.HealthStatus{Healthy: false, Detail: fmt.Sprintf("%d sources unavailable", unavailable)}
		}
		return errs.HealthStatus{Healthy: true}
	})
}

// observeRun folds a task result into the metrics bundle.
func (a *app) observeRun(result *task.Result, dataType models.DataType, src string) {
	failed := result.Stage != task.StageCompleted
	a.metrics.ObserveCollection(src, string(dataType), result.RecordsFetched, result.Duration, failed)
}
