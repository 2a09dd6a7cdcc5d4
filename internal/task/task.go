package task

import (
	"context"
	"fmt"
	"time"
)

// Stage is the phase a task run is in.
type Stage string

const (
	StagePending    Stage = "pending"
	StageRunning    Stage = "running"
	StageCollecting Stage = "collecting"
	StageValidating Stage = "validating"
	StageSaving     Stage = "saving"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
)

// Terminal reports whether the stage is final.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Parameter declares one accepted task parameter.
type Parameter struct {
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type" yaml:"type"` // string, int, float, bool, list
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default"`
	Choices     []string    `json:"choices,omitempty" yaml:"choices"`
	Description string      `json:"description,omitempty" yaml:"description"`
}

// Metadata describes a registered task.
type Metadata struct {
	TaskID      string      `json:"task_id" yaml:"task_id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Category    string      `json:"category" yaml:"category"`
	Priority    int         `json:"priority" yaml:"priority"`
	Schedule    string      `json:"schedule,omitempty" yaml:"schedule"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters"`
}

// ValidateParams checks params against the declared parameters: required
// presence and choice membership. Unknown keys pass through untouched.
func (m Metadata) ValidateParams(params map[string]interface{}) error {
	for _, p := range m.Parameters {
		v, present := params[p.Name]
		if !present || v == nil {
			if p.Required && p.Default == nil {
				return fmt.Errorf("task %s: required parameter %q missing", m.TaskID, p.Name)
			}
			continue
		}
		if len(p.Choices) > 0 {
			s := fmt.Sprintf("%v", v)
			ok := false
			for _, c := range p.Choices {
				if c == s {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("task %s: parameter %q=%v not in %v", m.TaskID, p.Name, v, p.Choices)
			}
		}
	}
	return nil
}

// ApplyDefaults returns params with declared defaults filled in for absent
// keys. The input map is not mutated.
func (m Metadata) ApplyDefaults(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+len(m.Parameters))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range m.Parameters {
		if _, present := out[p.Name]; !present && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// Progress is a point-in-time view of a run. Counts only grow.
type Progress struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	Stage     Stage     `json:"stage"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Executor is the three-phase contract every task implements. Collect
// produces raw canonical records, Validate filters them, Save persists
// and returns the stored row count.
type Executor interface {
	Metadata() Metadata
	Collect(ctx context.Context, params map[string]interface{}) ([]map[string]interface{}, error)
	Validate(records []map[string]interface{}) ([]map[string]interface{}, error)
	Save(ctx context.Context, records []map[string]interface{}) (int, error)
}

// Result is the outcome of one task run.
type Result struct {
	RunID          string        `json:"run_id"`
	TaskID         string        `json:"task_id"`
	Stage          Stage         `json:"stage"`
	RecordsFetched int           `json:"records_fetched"`
	RecordsValid   int           `json:"records_valid"`
	RecordsSaved   int           `json:"records_saved"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}
