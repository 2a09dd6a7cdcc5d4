package source

import (
	"sync"
	"time"

	"github.com/openfinance/datacenter/internal/models"
	"github.com/openfinance/datacenter/internal/netx/ratelimit"
)

// Status is the availability classification of a data source.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
)

// Config identifies and parameterizes one third-party origin.
type Config struct {
	ID        string            `yaml:"id" json:"id"`
	BaseURL   string            `yaml:"base_url" json:"base_url"`
	APIKeyRef string            `yaml:"api_key" json:"api_key,omitempty"`
	Timeout   time.Duration     `yaml:"timeout" json:"timeout"`
	RateLimit ratelimit.Policy  `yaml:"rate_limit" json:"rate_limit"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// Capabilities declares what a source can serve.
type Capabilities struct {
	DataTypes      []models.DataType  `yaml:"data_types" json:"data_types"`
	Frequencies    []models.Frequency `yaml:"frequencies" json:"frequencies"`
	Realtime       bool               `yaml:"realtime" json:"realtime"`
	History        bool               `yaml:"history" json:"history"`
	MaxHistoryDays int                `yaml:"max_history_days" json:"max_history_days"`
	RequiresAuth   bool               `yaml:"requires_auth" json:"requires_auth"`
}

// Supports reports whether the capability set covers dataType (and freq
// when non-empty).
func (c Capabilities) Supports(dataType models.DataType, freq models.Frequency) bool {
	found := false
	for _, dt := range c.DataTypes {
		if dt == dataType {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if freq == "" || len(c.Frequencies) == 0 {
		return true
	}
	for _, f := range c.Frequencies {
		if f == freq {
			return true
		}
	}
	return false
}

// Health holds rolling counters for one source. All mutation goes through
// its mutex; a source entry is shared by every collector using it.
type Health struct {
	mu                  sync.Mutex
	TotalRequests       int64
	SuccessCount        int64
	FailureCount        int64
	ConsecutiveFailures int64
	AvgResponseTimeMS   float64
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
}

// RecordSuccess resets the consecutive-failure streak and folds the
// response time into the rolling average.
func (h *Health) RecordSuccess(responseTime time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.TotalRequests++
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = time.Now()

	ms := float64(responseTime.Milliseconds())
	if h.AvgResponseTimeMS == 0 {
		h.AvgResponseTimeMS = ms
	} else {
		h.AvgResponseTimeMS = h.AvgResponseTimeMS*0.9 + ms*0.1
	}
}

// RecordFailure bumps the failure counters.
func (h *Health) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.TotalRequests++
	h.FailureCount++
	h.ConsecutiveFailures++
	h.LastFailureAt = time.Now()
}

// SuccessRate returns successes over total, 1.0 when untouched.
func (h *Health) SuccessRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.successRateLocked()
}

func (h *Health) successRateLocked() float64 {
	if h.TotalRequests == 0 {
		return 1
	}
	return float64(h.SuccessCount) / float64(h.TotalRequests)
}

// Status derives availability from the counters: five consecutive
// failures mark a source unavailable, two (or a sub-50% success rate)
// degrade it.
func (h *Health) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.TotalRequests == 0:
		return StatusUnknown
	case h.ConsecutiveFailures >= 5:
		return StatusUnavailable
	case h.ConsecutiveFailures >= 2 || h.successRateLocked() < 0.5:
		return StatusDegraded
	default:
		return StatusAvailable
	}
}

// Snapshot is a copyable view of health for status endpoints.
type Snapshot struct {
	TotalRequests       int64   `json:"total_requests"`
	SuccessCount        int64   `json:"success_count"`
	FailureCount        int64   `json:"failure_count"`
	ConsecutiveFailures int64   `json:"consecutive_failures"`
	AvgResponseTimeMS   float64 `json:"avg_response_time_ms"`
	SuccessRate         float64 `json:"success_rate"`
	Status              Status  `json:"status"`
}

// Snapshot returns a consistent copy of the counters.
func (h *Health) Snapshot() Snapshot {
	status := h.Status()
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		TotalRequests:       h.TotalRequests,
		SuccessCount:        h.SuccessCount,
		FailureCount:        h.FailureCount,
		ConsecutiveFailures: h.ConsecutiveFailures,
		AvgResponseTimeMS:   h.AvgResponseTimeMS,
		SuccessRate:         h.successRateLocked(),
		Status:              status,
	}
}
