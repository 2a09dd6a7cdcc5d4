// Package graph persists knowledge-graph records: entities, relations and
// events extracted from news and announcements. The relational store is
// the system of record; a secondary graph backend is best-effort.
package graph

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/models"
)

// Writer persists one batch of graph records.
type Writer interface {
	WriteEntities(ctx context.Context, entities []models.KGEntity) (int, error)
	WriteRelations(ctx context.Context, relations []models.KGRelation) (int, error)
	WriteEvents(ctx context.Context, events []models.KGEvent) (int, error)
}

// NoopWriter accepts and discards everything. Used when no graph backend
// is configured.
type NoopWriter struct{}

func (NoopWriter) WriteEntities(_ context.Context, entities []models.KGEntity) (int, error) {
	return len(entities), nil
}

func (NoopWriter) WriteRelations(_ context.Context, relations []models.KGRelation) (int, error) {
	return len(relations), nil
}

func (NoopWriter) WriteEvents(_ context.Context, events []models.KGEvent) (int, error) {
	return len(events), nil
}

// DualWriter writes to the relational store first, then mirrors into the
// graph backend. A relational failure fails the write; a graph failure is
// recorded and swallowed so ingestion never stalls on the mirror.
type DualWriter struct {
	relational Writer
	graph      Writer
	recorder   *errs.Recorder
	logger     zerolog.Logger
}

// NewDualWriter builds the dual writer. graph may be nil.
func NewDualWriter(relational, graph Writer, recorder *errs.Recorder) *DualWriter {
	if graph == nil {
		graph = NoopWriter{}
	}
	return &DualWriter{
		relational: relational,
		graph:      graph,
		recorder:   recorder,
		logger:     log.With().Str("component", "graph").Logger(),
	}
}

func (w *DualWriter) WriteEntities(ctx context.Context, entities []models.KGEntity) (int, error) {
	n, err := w.relational.WriteEntities(ctx, entities)
	if err != nil {
		return n, err
	}
	if _, err := w.graph.WriteEntities(ctx, entities); err != nil {
		w.mirrorFailed(ctx, "write entities", err)
	}
	return n, nil
}

func (w *DualWriter) WriteRelations(ctx context.Context, relations []models.KGRelation) (int, error) {
	n, err := w.relational.WriteRelations(ctx, relations)
	if err != nil {
		return n, err
	}
	if _, err := w.graph.WriteRelations(ctx, relations); err != nil {
		w.mirrorFailed(ctx, "write relations", err)
	}
	return n, nil
}

func (w *DualWriter) WriteEvents(ctx context.Context, events []models.KGEvent) (int, error) {
	n, err := w.relational.WriteEvents(ctx, events)
	if err != nil {
		return n, err
	}
	if _, err := w.graph.WriteEvents(ctx, events); err != nil {
		w.mirrorFailed(ctx, "write events", err)
	}
	return n, nil
}

func (w *DualWriter) mirrorFailed(_ context.Context, op string, err error) {
	w.logger.Warn().Err(err).Str("op", op).Msg("graph mirror write failed")
	if w.recorder != nil {
		w.recorder.RecordError("graph", op, 0, errs.E(errs.CategoryStorage, "graph mirror "+op, err))
	}
}
