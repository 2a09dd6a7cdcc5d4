package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/models"
)

// Entry bundles a source's config, declared capabilities and live health.
type Entry struct {
	Config       Config
	Capabilities Capabilities
	Health       *Health
}

// Registry is the process-wide source table. Registration is idempotent:
// re-registering an ID replaces config and capabilities but keeps the
// accumulated health counters.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds or updates a source.
func (r *Registry) Register(cfg Config, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[cfg.ID]; ok {
		existing.Config = cfg
		existing.Capabilities = caps
		log.Debug().Str("source", cfg.ID).Msg("source re-registered")
		return
	}
	r.entries[cfg.ID] = &Entry{Config: cfg, Capabilities: caps, Health: &Health{}}
	log.Info().Str("source", cfg.ID).Str("base_url", cfg.BaseURL).Msg("source registered")
}

// ExtendCapabilities records that a source serves dataType at freq. Loaded
// collectors call this so selection sees what each source actually covers.
func (r *Registry) ExtendCapabilities(id string, dataType models.DataType, freq models.Frequency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("source %q not registered", id)
	}
	caps := &e.Capabilities
	found := false
	for _, dt := range caps.DataTypes {
		if dt == dataType {
			found = true
			break
		}
	}
	if !found {
		caps.DataTypes = append(caps.DataTypes, dataType)
	}
	if freq != "" {
		found = false
		for _, f := range caps.Frequencies {
			if f == freq {
				found = true
				break
			}
		}
		if !found {
			caps.Frequencies = append(caps.Frequencies, freq)
		}
	}
	if freq == models.FreqTick {
		caps.Realtime = true
	}
	return nil
}

// Unregister removes a source.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("source %q not registered", id)
	}
	return e, nil
}

// IDs returns registered source ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectFor ranks candidate sources for a data type and returns the best
// one. Unavailable sources are excluded. Score: +100 when preferRealtime
// matches a realtime capability, +successRate*50, -consecutiveFailures*10.
func (r *Registry) SelectFor(dataType models.DataType, freq models.Frequency, preferRealtime bool) (*Entry, error) {
	r.mu.RLock()
	candidates := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		candidates = append(candidates, e)
	}
	r.mu.RUnlock()

	var best *Entry
	bestScore := 0.0
	for _, e := range candidates {
		if !e.Capabilities.Supports(dataType, freq) {
			continue
		}
		snap := e.Health.Snapshot()
		if snap.Status == StatusUnavailable {
			continue
		}
		score := snap.SuccessRate*50 - float64(snap.ConsecutiveFailures)*10
		if preferRealtime && e.Capabilities.Realtime {
			score += 100
		}
		if best == nil || score > bestScore {
			best = e
			bestScore = score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no available source for %s/%s", dataType, freq)
	}
	return best, nil
}

// Snapshots returns a health snapshot per source, keyed by id.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Health.Snapshot()
	}
	return out
}
