// Package scheduler runs registered tasks on cron schedules with a
// global concurrency cap, per-job single-flight, trading-day gating and
// dependency ordering.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/calendar"
	"github.com/openfinance/datacenter/internal/task"
)

// JobState is the last known outcome of a job.
type JobState struct {
	Name        string     `json:"name"`
	Task        string     `json:"task"`
	Schedule    string     `json:"schedule"`
	Running     bool       `json:"running"`
	LastRunAt   time.Time  `json:"last_run_at,omitempty"`
	LastSuccess time.Time  `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	RunCount    int64      `json:"run_count"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
}

// RunGauge tracks how many jobs hold a worker slot. Satisfied by a
// prometheus gauge.
type RunGauge interface {
	Inc()
	Dec()
}

// Scheduler drives the job table. Construct with New, then Start.
type Scheduler struct {
	cfg      *Config
	registry *task.Registry
	cal      *calendar.Calendar
	cron     *cron.Cron
	sem      chan struct{}
	gauge    RunGauge
	logger   zerolog.Logger

	mu      sync.Mutex
	states  map[string]*JobState
	entries map[string]cron.EntryID

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a scheduler. cal may be nil when no job gates on trading
// days.
func New(cfg *Config, registry *task.Registry, cal *calendar.Calendar) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", cfg.Timezone, err)
	}
	s := &Scheduler{
		cfg:      cfg,
		registry: registry,
		cal:      cal,
		cron:     cron.New(cron.WithLocation(loc)),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		logger:   log.With().Str("component", "scheduler").Logger(),
		states:   make(map[string]*JobState),
		entries:  make(map[string]cron.EntryID),
	}
	for i := range cfg.Jobs {
		job := cfg.Jobs[i]
		if job.Disabled {
			s.logger.Info().Str("job", job.Name).Msg("job disabled, skipping")
			continue
		}
		if _, err := registry.Get(job.Task); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		expr, err := job.CronExpr()
		if err != nil {
			return nil, err
		}
		s.states[job.Name] = &JobState{Name: job.Name, Task: job.Task, Schedule: job.Schedule}
		id, err := s.cron.AddFunc(expr, func() { s.trigger(job) })
		if err != nil {
			return nil, fmt.Errorf("job %s: schedule %q: %w", job.Name, job.Schedule, err)
		}
		s.entries[job.Name] = id
	}
	return s, nil
}

// SetRunGauge attaches a gauge tracking in-flight jobs. Call before Start.
func (s *Scheduler) SetRunGauge(g RunGauge) { s.gauge = g }

// Start begins firing schedules. Runs inherit ctx; cancelling it aborts
// in-flight jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info().
		Int("jobs", len(s.entries)).
		Int("max_concurrent", s.cfg.MaxConcurrent).
		Msg("scheduler started")
}

// Stop halts new fires and waits for in-flight runs to drain.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// Trigger fires one job by name immediately, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	for _, job := range s.cfg.Jobs {
		if job.Name == name {
			s.trigger(job)
			return nil
		}
	}
	return fmt.Errorf("job %q not configured", name)
}

// Jobs reports the state of every job, sorted by name.
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	out := make([]JobState, 0, len(s.states))
	for name, st := range s.states {
		snapshot := *st
		if id, ok := s.entries[name]; ok {
			if next := s.cron.Entry(id).Next; !next.IsZero() {
				n := next
				snapshot.NextRunAt = &n
			}
		}
		out = append(out, snapshot)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// trigger is the cron entry point: it applies the gates, takes a worker
// slot and runs the job with its retry policy.
func (s *Scheduler) trigger(job JobSpec) {
	now := time.Now()
	if job.TradingDaysOnly && s.cal != nil && !s.cal.IsTradingDay(now) {
		s.logger.Debug().Str("job", job.Name).Msg("skipped: not a trading day")
		return
	}
	if !s.depsSatisfied(job, now) {
		s.logger.Warn().Str("job", job.Name).Strs("depends_on", job.DependsOn).Msg("skipped: dependency not satisfied")
		return
	}
	if !s.markRunning(job.Name) {
		s.logger.Warn().Str("job", job.Name).Msg("skipped: previous run still in flight")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.markStopped(job.Name)

		ctx := s.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}
		if s.gauge != nil {
			s.gauge.Inc()
			defer s.gauge.Dec()
		}
		s.runWithRetry(ctx, job)
	}()
}

func (s *Scheduler) runWithRetry(ctx context.Context, job JobSpec) {
	exec, err := s.registry.Get(job.Task)
	if err != nil {
		s.recordOutcome(job.Name, err)
		return
	}

	attempts := job.Retry.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := job.Retry.Delay(attempt - 1)
			s.logger.Info().Str("job", job.Name).Int("attempt", attempt).Dur("delay", delay).Msg("retrying job")
			select {
			case <-ctx.Done():
				s.recordOutcome(job.Name, ctx.Err())
				return
			case <-time.After(delay):
			}
		}
		result, err := task.Run(ctx, exec, job.Params, task.RunOptions{Timeout: job.Timeout()})
		if err != nil {
			lastErr = err
		} else if result.Stage != task.StageCompleted {
			lastErr = fmt.Errorf("run %s ended %s: %s", result.RunID, result.Stage, result.Error)
		} else {
			s.recordOutcome(job.Name, nil)
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.recordOutcome(job.Name, lastErr)
}

// depsSatisfied requires every dependency to have succeeded today.
func (s *Scheduler) depsSatisfied(job JobSpec, now time.Time) bool {
	if len(job.DependsOn) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := now.Date()
	for _, dep := range job.DependsOn {
		st, ok := s.states[dep]
		if !ok {
			return false
		}
		dy, dm, dd := st.LastSuccess.Date()
		if st.LastSuccess.IsZero() || dy != y || dm != m || dd != d {
			return false
		}
	}
	return true
}

func (s *Scheduler) markRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok || st.Running {
		return false
	}
	st.Running = true
	st.LastRunAt = time.Now()
	st.RunCount++
	return true
}

func (s *Scheduler) markStopped(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[name]; ok {
		st.Running = false
	}
}

func (s *Scheduler) recordOutcome(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		return
	}
	if err != nil {
		st.LastError = err.Error()
		s.logger.Error().Err(err).Str("job", name).Msg("job failed")
		return
	}
	st.LastError = ""
	st.LastSuccess = time.Now()
	s.logger.Info().Str("job", name).Msg("job succeeded")
}
