package graph

import (
	"context"

	"github.com/openfinance/datacenter/internal/models"
	"github.com/openfinance/datacenter/internal/store"
)

// Table names the relational side persists into. They must appear in the
// table registry.
const (
	TableEntities  = "kg_entity"
	TableRelations = "kg_relation"
	TableEvents    = "kg_event"
)

// StoreWriter persists graph records through the relational upsert engine.
type StoreWriter struct {
	engine *store.Engine
}

// NewStoreWriter wraps the storage engine.
func NewStoreWriter(engine *store.Engine) *StoreWriter {
	return &StoreWriter{engine: engine}
}

func (w *StoreWriter) WriteEntities(ctx context.Context, entities []models.KGEntity) (int, error) {
	records := make([]map[string]interface{}, len(entities))
	for i := range entities {
		records[i] = entities[i].ToRecord()
	}
	return w.engine.Save(ctx, TableEntities, records)
}

func (w *StoreWriter) WriteRelations(ctx context.Context, relations []models.KGRelation) (int, error) {
	records := make([]map[string]interface{}, len(relations))
	for i := range relations {
		records[i] = relations[i].ToRecord()
	}
	return w.engine.Save(ctx, TableRelations, records)
}

func (w *StoreWriter) WriteEvents(ctx context.Context, events []models.KGEvent) (int, error) {
	records := make([]map[string]interface{}, len(events))
	for i := range events {
		records[i] = events[i].ToRecord()
	}
	return w.engine.Save(ctx, TableEvents, records)
}
