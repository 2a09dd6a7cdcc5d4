package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds the process-wide task table.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Executor)}
}

var defaultRegistry = NewRegistry()

// Default returns the shared registry used by the CLI and scheduler.
func Default() *Registry { return defaultRegistry }

// Register adds a task. Re-registering an id replaces the previous
// executor; task ids come from config so collisions mean a config edit,
// not a bug.
func (r *Registry) Register(exec Executor) error {
	meta := exec.Metadata()
	if meta.TaskID == "" {
		return fmt.Errorf("task has empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[meta.TaskID]; exists {
		log.Warn().Str("task_id", meta.TaskID).Msg("task re-registered")
	}
	r.tasks[meta.TaskID] = exec
	return nil
}

// Unregister removes a task.
func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
}

// Get returns the executor for taskID.
func (r *Registry) Get(taskID string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %q not registered", taskID)
	}
	return exec, nil
}

// List returns task metadata ordered by priority ascending, then name.
// An empty category matches all.
func (r *Registry) List(category string) []Metadata {
	r.mu.RLock()
	out := make([]Metadata, 0, len(r.tasks))
	for _, exec := range r.tasks {
		meta := exec.Metadata()
		if category != "" && meta.Category != category {
			continue
		}
		out = append(out, meta)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Categories returns distinct categories, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, exec := range r.tasks {
		if c := exec.Metadata().Category; c != "" {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
