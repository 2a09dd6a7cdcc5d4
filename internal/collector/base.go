package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/models"
)

// Settings parameterizes a collection pipeline.
type Settings struct {
	Source          string
	DataType        models.DataType
	Frequency       models.Frequency
	RetryCount      int
	RetryDelay      time.Duration
	DedupEnabled    bool
	DedupKeys       []string
	ValidateEnabled bool
	RequiredFields  []string
}

// FetchFunc produces the raw records for one run. The config-driven
// collector supplies one implementation; hand-written collectors another.
type FetchFunc func(ctx context.Context, params Params) ([]map[string]interface{}, error)

// Hooks are optional lifecycle callbacks.
type Hooks struct {
	Initialize func(ctx context.Context) error
	Cleanup    func(ctx context.Context) error
}

// Base wraps a FetchFunc with the shared collection pipeline: lifecycle,
// retry, order-stable dedup and required-field validation. Collect runs
// are serialized per collector.
type Base struct {
	settings Settings
	fetch    FetchFunc
	hooks    Hooks
	logger   zerolog.Logger

	runMu   sync.Mutex
	running atomic.Bool

	collectionCount atomic.Int64
	errorCount      atomic.Int64

	lastMu         sync.Mutex
	lastCollection time.Time
}

// NewBase builds a collector around fetch.
func NewBase(settings Settings, fetch FetchFunc, hooks Hooks) *Base {
	if settings.RetryCount <= 0 {
		settings.RetryCount = 3
	}
	if settings.RetryDelay <= 0 {
		settings.RetryDelay = time.Second
	}
	return &Base{
		settings: settings,
		fetch:    fetch,
		hooks:    hooks,
		logger: log.With().
			Str("component", "collector").
			Str("source", settings.Source).
			Str("data_type", string(settings.DataType)).
			Logger(),
	}
}

func (b *Base) Source() string            { return b.settings.Source }
func (b *Base) DataType() models.DataType { return b.settings.DataType }

// Start flips the running flag and runs the initialize hook. An
// initialization failure leaves the collector stopped.
func (b *Base) Start(ctx context.Context) error {
	if b.hooks.Initialize != nil {
		if err := b.hooks.Initialize(ctx); err != nil {
			b.errorCount.Add(1)
			return fmt.Errorf("collector %s initialize: %w", b.settings.Source, err)
		}
	}
	b.running.Store(true)
	b.logger.Info().Msg("collector started")
	return nil
}

// Stop clears the running flag and runs the cleanup hook.
func (b *Base) Stop(ctx context.Context) error {
	b.running.Store(false)
	if b.hooks.Cleanup != nil {
		if err := b.hooks.Cleanup(ctx); err != nil {
			return fmt.Errorf("collector %s cleanup: %w", b.settings.Source, err)
		}
	}
	b.logger.Info().Msg("collector stopped")
	return nil
}

// HealthCheck reports runtime counters.
func (b *Base) HealthCheck() HealthReport {
	collections := b.collectionCount.Load()
	errors := b.errorCount.Load()
	rate := 0.0
	if total := collections + errors; total > 0 {
		rate = float64(errors) / float64(total)
	}
	b.lastMu.Lock()
	last := b.lastCollection
	b.lastMu.Unlock()
	return HealthReport{
		Source:             b.settings.Source,
		Running:            b.running.Load(),
		LastCollectionTime: last,
		CollectionCount:    collections,
		ErrorCount:         errors,
		ErrorRate:          rate,
	}
}

// Collect runs the full pipeline: fetch with retry, dedup, validation.
// Errors are folded into the result rather than propagated; the caller
// inspects Status.
func (b *Base) Collect(ctx context.Context, params Params) (*Result, error) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	result := &Result{
		TaskID:    fmt.Sprintf("%s_%s", b.settings.Source, time.Now().Format("20060102150405")),
		Source:    b.settings.Source,
		DataType:  b.settings.DataType,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	records, err := b.fetchWithRetry(ctx, params)
	if err != nil {
		b.errorCount.Add(1)
		result.Status = StatusFailed
		if ctx.Err() != nil {
			result.Status = StatusCancelled
		}
		result.Error = err.Error()
		result.CompletedAt = time.Now()
		b.logger.Error().Err(err).Str("task_id", result.TaskID).Msg("collection failed")
		return result, nil
	}
	result.RecordsCollected = len(records)

	if b.settings.DedupEnabled && len(b.settings.DedupKeys) > 0 {
		before := len(records)
		records = Deduplicate(records, b.settings.DedupKeys)
		result.RecordsDeduplicated = before - len(records)
	}

	if b.settings.ValidateEnabled && len(b.settings.RequiredFields) > 0 {
		records = Validate(records, b.settings.RequiredFields, b.logger)
	}
	result.RecordsValid = len(records)
	result.Records = records

	b.collectionCount.Add(1)
	b.lastMu.Lock()
	b.lastCollection = time.Now()
	b.lastMu.Unlock()

	result.Status = StatusCompleted
	result.CompletedAt = time.Now()
	b.logger.Info().
		Str("task_id", result.TaskID).
		Int("collected", result.RecordsCollected).
		Int("valid", result.RecordsValid).
		Int("deduplicated", result.RecordsDeduplicated).
		Msg("collection completed")
	return result, nil
}

// fetchWithRetry attempts fetch up to RetryCount times with delay
// retryDelay * 2^attempt, returning the last error on exhaustion.
func (b *Base) fetchWithRetry(ctx context.Context, params Params) ([]map[string]interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < b.settings.RetryCount; attempt++ {
		if attempt > 0 {
			delay := b.settings.RetryDelay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, errs.E(errs.CategoryNetwork, "collect", ctx.Err())
			case <-time.After(delay):
			}
			b.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying fetch")
		}
		records, err := b.fetch(ctx, params)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// Deduplicate removes later duplicates, keeping the first occurrence of
// each dedup-key hash. Output preserves source order.
func Deduplicate(records []map[string]interface{}, keys []string) []map[string]interface{} {
	seen := make(map[string]struct{}, len(records))
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		h := RecordHash(rec, keys)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// Validate keeps records whose required fields are all present and
// non-nil. Dropped records are logged, never fatal.
func Validate(records []map[string]interface{}, required []string, logger zerolog.Logger) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		ok := true
		for _, field := range required {
			if v, present := rec[field]; !present || v == nil {
				logger.Debug().Str("field", field).Msg("record dropped: required field missing")
				ok = false
				break
			}
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out
}
