package mapping

import (
	"fmt"
	"sync"
	"time"

	"github.com/openfinance/datacenter/internal/convert"
)

// Registry holds the process-wide set of field mappings, keyed by
// (source, dataType). Populated at startup, read-mostly afterwards.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]*Mapping
}

// NewRegistry creates an empty mapping registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[string]*Mapping)}
}

func key(source, dataType string) string { return source + "/" + dataType }

// Register adds or replaces the mapping for (source, dataType).
func (r *Registry) Register(m *Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[key(m.Source, m.DataType)] = m
}

// Unregister removes a mapping.
func (r *Registry) Unregister(source, dataType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mappings, key(source, dataType))
}

// Get returns the mapping for (source, dataType).
func (r *Registry) Get(source, dataType string) (*Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[key(source, dataType)]
	if !ok {
		return nil, fmt.Errorf("no field mapping registered for %s/%s", source, dataType)
	}
	return m, nil
}

// Len reports how many mappings are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappings)
}

// BuiltinConverter resolves a converter referenced by name in collector
// config. Unknown names return nil.
func BuiltinConverter(name string) Converter {
	switch name {
	case "safe_float":
		return func(v interface{}) (interface{}, error) {
			return convert.ToFloat(v, 0), nil
		}
	case "safe_int":
		return func(v interface{}) (interface{}, error) {
			return convert.ToInt(v, 0), nil
		}
	case "safe_str":
		return func(v interface{}) (interface{}, error) {
			return convert.ToString(v, ""), nil
		}
	case "to_date":
		return func(v interface{}) (interface{}, error) {
			t := convert.ToDate(v, time.Time{})
			if t.IsZero() {
				return nil, fmt.Errorf("unparseable date %v", v)
			}
			return t, nil
		}
	case "to_quote_code":
		return func(v interface{}) (interface{}, error) {
			return convert.ToQuoteServerCode(convert.ToString(v, ""))
		}
	case "normalize_code":
		return func(v interface{}) (interface{}, error) {
			return convert.NormalizeCode(convert.ToString(v, "")), nil
		}
	default:
		return nil
	}
}
