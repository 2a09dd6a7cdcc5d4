package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/errs"
)

// DefaultTimeout bounds a run when the caller sets none.
const DefaultTimeout = 300 * time.Second

// RunOptions tune one execution.
type RunOptions struct {
	Timeout time.Duration
	// OnProgress, when set, receives stage transitions and count updates.
	OnProgress func(Progress)
}

// Run drives an executor through collect, validate and save. The pipeline
// is fail-fast: a phase error ends the run with StageFailed (or
// StageCancelled when the context expired) and the error folded into the
// result. The error return is reserved for parameter rejection.
func Run(ctx context.Context, exec Executor, params map[string]interface{}, opts RunOptions) (*Result, error) {
	meta := exec.Metadata()
	if err := meta.ValidateParams(params); err != nil {
		return nil, errs.E(errs.CategoryValidation, "run task", err)
	}
	params = meta.ApplyDefaults(params)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &Result{
		RunID:     uuid.NewString(),
		TaskID:    meta.TaskID,
		Stage:     StageRunning,
		StartedAt: time.Now(),
	}
	logger := log.With().
		Str("component", "task").
		Str("task_id", meta.TaskID).
		Str("run_id", result.RunID).
		Logger()

	report := func(stage Stage, processed, total int, msg string) {
		result.Stage = stage
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				RunID:     result.RunID,
				TaskID:    meta.TaskID,
				Stage:     stage,
				Total:     total,
				Processed: processed,
				Message:   msg,
				UpdatedAt: time.Now(),
			})
		}
	}
	fail := func(op string, err error) (*Result, error) {
		stage := StageFailed
		if ctx.Err() != nil {
			stage = StageCancelled
		}
		result.Error = err.Error()
		result.Duration = time.Since(result.StartedAt)
		report(stage, result.RecordsValid, result.RecordsFetched, op)
		logger.Error().Err(err).Str("op", op).Msg("task run failed")
		return result, nil
	}

	report(StageCollecting, 0, 0, "")
	records, err := exec.Collect(ctx, params)
	if err != nil {
		return fail("collect", err)
	}
	result.RecordsFetched = len(records)

	report(StageValidating, 0, len(records), "")
	valid, err := exec.Validate(records)
	if err != nil {
		return fail("validate", err)
	}
	result.RecordsValid = len(valid)

	report(StageSaving, len(valid), len(records), "")
	saved, err := exec.Save(ctx, valid)
	if err != nil {
		return fail("save", err)
	}
	result.RecordsSaved = saved

	result.Duration = time.Since(result.StartedAt)
	report(StageCompleted, saved, len(records), "")
	logger.Info().
		Int("fetched", result.RecordsFetched).
		Int("valid", result.RecordsValid).
		Int("saved", result.RecordsSaved).
		Dur("duration", result.Duration).
		Msg("task run completed")
	return result, nil
}
