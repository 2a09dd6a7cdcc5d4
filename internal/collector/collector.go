package collector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openfinance/datacenter/internal/models"
)

// Params is the free-form keyword bag passed to a collection run.
type Params map[string]interface{}

// Status is the lifecycle state of one collection run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of one collection run.
type Result struct {
	TaskID              string                   `json:"task_id"`
	Source              string                   `json:"source"`
	DataType            models.DataType          `json:"data_type"`
	Status              Status                   `json:"status"`
	RecordsCollected    int                      `json:"records_collected"`
	RecordsValid        int                      `json:"records_valid"`
	RecordsDeduplicated int                      `json:"records_deduplicated"`
	Error               string                   `json:"error,omitempty"`
	StartedAt           time.Time                `json:"started_at"`
	CompletedAt         time.Time                `json:"completed_at"`
	Records             []map[string]interface{} `json:"-"`
}

// HealthReport describes a collector's runtime state.
type HealthReport struct {
	Source             string    `json:"source"`
	Running            bool      `json:"running"`
	LastCollectionTime time.Time `json:"last_collection_time"`
	CollectionCount    int64     `json:"collection_count"`
	ErrorCount         int64     `json:"error_count"`
	ErrorRate          float64   `json:"error_rate"`
}

// Collector is the capability surface shared by hand-written collectors
// and config-driven ones.
type Collector interface {
	Source() string
	DataType() models.DataType
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Collect(ctx context.Context, params Params) (*Result, error)
	HealthCheck() HealthReport
}

// RecordHash produces a stable dedup hash over the named keys. Keys are
// sorted before concatenation so map iteration order never leaks into the
// hash; absent values hash as nil.
func RecordHash(record map[string]interface{}, keys []string) string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	var b strings.Builder
	for _, k := range sorted {
		b.WriteString(k)
		b.WriteByte('=')
		v, ok := record[k]
		if !ok || v == nil {
			b.WriteString("\x00nil")
		} else {
			b.WriteString(stringify(v))
		}
		b.WriteByte('|')
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", v)
	}
}
