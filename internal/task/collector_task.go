package task

import (
	"context"
	"fmt"

	"github.com/openfinance/datacenter/internal/collector"
)

// Saver persists validated records and returns the stored count.
type Saver interface {
	Save(ctx context.Context, records []map[string]interface{}) (int, error)
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context, records []map[string]interface{}) (int, error)

func (f SaverFunc) Save(ctx context.Context, records []map[string]interface{}) (int, error) {
	return f(ctx, records)
}

// DiscardSaver counts records without persisting them. Dry runs.
var DiscardSaver = SaverFunc(func(_ context.Context, records []map[string]interface{}) (int, error) {
	return len(records), nil
})

// CollectorTask adapts a collector into the three-phase task contract.
// The collector already dedups and validates, so Validate passes through.
type CollectorTask struct {
	meta      Metadata
	collector collector.Collector
	saver     Saver
}

// NewCollectorTask wires a collector and a saver under task metadata.
func NewCollectorTask(meta Metadata, c collector.Collector, saver Saver) *CollectorTask {
	if saver == nil {
		saver = DiscardSaver
	}
	return &CollectorTask{meta: meta, collector: c, saver: saver}
}

func (t *CollectorTask) Metadata() Metadata { return t.meta }

// Collect runs the collector and surfaces a failed run as an error so the
// task pipeline records the failure.
func (t *CollectorTask) Collect(ctx context.Context, params map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := t.collector.Collect(ctx, collector.Params(params))
	if err != nil {
		return nil, err
	}
	if result.Status != collector.StatusCompleted {
		return nil, fmt.Errorf("collector %s run %s: %s", result.Source, result.Status, result.Error)
	}
	return result.Records, nil
}

func (t *CollectorTask) Validate(records []map[string]interface{}) ([]map[string]interface{}, error) {
	return records, nil
}

func (t *CollectorTask) Save(ctx context.Context, records []map[string]interface{}) (int, error) {
	return t.saver.Save(ctx, records)
}

// FromSpec registers a config-driven collector as a task. The task id
// defaults to the collector id.
func FromSpec(reg *Registry, spec *collector.Spec, opts collector.BuildOptions, saver Saver, meta Metadata) (*CollectorTask, error) {
	base, err := collector.FromSpec(spec, opts)
	if err != nil {
		return nil, err
	}
	if meta.TaskID == "" {
		meta.TaskID = spec.CollectorID
	}
	if meta.Name == "" {
		meta.Name = spec.Name
	}
	if meta.Category == "" {
		meta.Category = string(spec.DataType)
	}
	t := NewCollectorTask(meta, base, saver)
	if err := reg.Register(t); err != nil {
		return nil, err
	}
	return t, nil
}
