package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/errs"
)

// Options tune the engine's batching and retry behavior.
type Options struct {
	BatchSize  int
	MaxRetries int
	RetryBase  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	return o
}

// Engine writes canonical records into Postgres through declarative table
// schemas. The table's save_mode picks the statement shape; the default
// upsert merges conflicting rows field by field, never replacing a stored
// value with null.
type Engine struct {
	db     *sqlx.DB
	tables map[string]Table
	opts   Options
	logger zerolog.Logger
}

// Open connects to Postgres and builds an engine over it.
func Open(dsn string, tables map[string]Table, opts Options) (*Engine, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errs.E(errs.CategoryStorage, "connect postgres", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewEngine(db, tables, opts), nil
}

// NewEngine wraps an existing connection (tests inject sqlmock here).
func NewEngine(db *sqlx.DB, tables map[string]Table, opts Options) *Engine {
	return &Engine{
		db:     db,
		tables: tables,
		opts:   opts.withDefaults(),
		logger: log.With().Str("component", "store").Logger(),
	}
}

// Close releases the connection pool.
func (e *Engine) Close() error { return e.db.Close() }

// DB exposes the underlying handle for read-side consumers.
func (e *Engine) DB() *sqlx.DB { return e.db }

// Table returns the declared schema for name.
func (e *Engine) Table(name string) (Table, error) {
	tbl, ok := e.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("table %q not configured", name)
	}
	return tbl, nil
}

// EnsureSchema creates all configured tables and indexes.
func (e *Engine) EnsureSchema(ctx context.Context) error {
	for name, tbl := range e.tables {
		for _, stmt := range tbl.CreateDDL() {
			if _, err := e.db.ExecContext(ctx, stmt); err != nil {
				return errs.E(errs.CategoryStorage, "ensure schema",
					fmt.Errorf("table %s: %w", name, err))
			}
		}
	}
	e.logger.Info().Int("tables", len(e.tables)).Msg("schema ensured")
	return nil
}

// Save writes records into table in batches, using the statement shape the
// table's save_mode declares. Each batch is one transaction; a unique
// violation inside a batch falls back to row-by-row writes that skip the
// violating rows (except under append, where conflicts are errors).
// Transient failures retry with exponential backoff. Returns the number of
// rows written.
func (e *Engine) Save(ctx context.Context, table string, records []map[string]interface{}) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tbl, err := e.Table(table)
	if err != nil {
		return 0, errs.E(errs.CategoryStorage, "save", err)
	}
	query := saveSQL(tbl)

	batchSize := e.opts.BatchSize
	if tbl.BatchSize > 0 {
		batchSize = tbl.BatchSize
	}

	written := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		n, err := e.writeBatch(ctx, tbl, query, records[start:end])
		written += n
		if err != nil {
			return written, errs.E(errs.CategoryStorage, "save",
				fmt.Errorf("table %s batch %d-%d: %w", table, start, end, err))
		}
	}
	e.logger.Debug().Str("table", table).Str("mode", tbl.Mode()).
		Int("records", len(records)).Int("written", written).Msg("save complete")
	return written, nil
}

// writeBatch commits one batch, retrying transient failures whole.
func (e *Engine) writeBatch(ctx context.Context, tbl Table, query string, batch []map[string]interface{}) (int, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.opts.RetryBase * (1 << (attempt - 1))
			e.logger.Warn().Err(lastErr).Dur("delay", delay).Int("attempt", attempt).Msg("retrying batch write")
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}
		n, err := e.execBatch(ctx, tbl, query, batch)
		if err == nil {
			return n, nil
		}
		if isUniqueViolation(err) && tbl.Mode() != SaveModeAppend {
			return e.writeRows(ctx, tbl, query, batch)
		}
		if !isTransient(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (e *Engine) execBatch(ctx context.Context, tbl Table, query string, batch []map[string]interface{}) (int, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	n := 0
	for _, rec := range batch {
		if _, err := stmt.ExecContext(ctx, rowArgs(tbl, rec)...); err != nil {
			stmt.Close()
			tx.Rollback()
			return 0, err
		}
		n++
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// writeRows is the degraded path after a unique violation: each row gets
// its own statement so one bad row cannot poison the rest.
func (e *Engine) writeRows(ctx context.Context, tbl Table, query string, batch []map[string]interface{}) (int, error) {
	n := 0
	for _, rec := range batch {
		if _, err := e.db.ExecContext(ctx, query, rowArgs(tbl, rec)...); err != nil {
			if isUniqueViolation(err) {
				e.logger.Debug().Str("table", tbl.Name).Msg("duplicate row skipped")
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// saveSQL renders the write statement for the table's save mode. Upsert
// merges non-conflict columns with COALESCE so incoming nulls never erase
// stored values; replace overwrites them whole; insert skips conflicting
// rows; append is a bare insert.
func saveSQL(tbl Table) string {
	cols := tbl.Columns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		tbl.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if tbl.Mode() == SaveModeAppend {
		return b.String()
	}

	conflict := tbl.ConflictColumns()
	conflictSet := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		conflictSet[c] = true
	}

	var sets []string
	for _, c := range cols {
		if conflictSet[c] {
			continue
		}
		switch tbl.Mode() {
		case SaveModeReplace:
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		case SaveModeUpsert:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", c, c, tbl.Name, c))
		}
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) ", strings.Join(conflict, ", "))
	if tbl.Mode() == SaveModeInsert || len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		fmt.Fprintf(&b, "DO UPDATE SET %s", strings.Join(sets, ", "))
	}
	return b.String()
}

// rowArgs resolves column values in declaration order. Field.Value applies
// the source-field fallback chain, defaults and type coercion; unresolved
// fields bind as NULL.
func rowArgs(tbl Table, rec map[string]interface{}) []interface{} {
	args := make([]interface{}, len(tbl.Fields))
	for i, f := range tbl.Fields {
		args[i] = f.Value(rec)
	}
	return args
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isTransient marks errors worth retrying: connection failures, resource
// pressure, serialization conflicts and deadlocks.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return true
		case pqErr.Code == "40001", pqErr.Code == "40P01":
			return true
		}
		return false
	}
	// Non-pq errors from the driver are usually broken connections.
	return true
}
