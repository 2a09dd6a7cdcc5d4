package errs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the outcome of one registered check.
type HealthStatus struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"latency"`
}

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) HealthStatus

// HealthService aggregates named checks into a single overall status.
type HealthService struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthService creates an empty health service.
func NewHealthService() *HealthService {
	return &HealthService{checks: make(map[string]HealthCheck)}
}

// RegisterCheck adds or replaces a named check.
func (h *HealthService) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Report runs every check and returns per-component statuses sorted by
// name plus the aggregate verdict.
func (h *HealthService) Report(ctx context.Context) ([]HealthStatus, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	sort.Strings(names)
	statuses := make([]HealthStatus, 0, len(names))
	overall := true
	for _, name := range names {
		start := time.Now()
		status := checks[name](ctx)
		status.Name = name
		status.Latency = time.Since(start)
		if !status.Healthy {
			overall = false
		}
		statuses = append(statuses, status)
	}
	return statuses, overall
}
