package mapping

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/openfinance/datacenter/internal/convert"
	"github.com/openfinance/datacenter/internal/errs"
)

// FieldType is the canonical type a mapped value coerces to.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeInt        FieldType = "int"
	TypeFloat      FieldType = "float"
	TypeDecimal    FieldType = "decimal"
	TypeDate       FieldType = "date"
	TypeDateTime   FieldType = "datetime"
	TypeBool       FieldType = "bool"
	TypePercentage FieldType = "percentage"
	TypeRaw        FieldType = "raw"
)

// Converter transforms a raw source value into its canonical form. A rule
// converter overrides the type-based coercion.
type Converter func(value interface{}) (interface{}, error)

// Rule maps one source field into one canonical field.
type Rule struct {
	Source    string
	Target    string
	Type      FieldType
	Default   interface{}
	Converter Converter
	Required  bool
}

// PostProcessor runs over the assembled canonical record last.
type PostProcessor func(record map[string]interface{}) map[string]interface{}

// Mapping is the (source, dataType)-keyed bundle of rules.
type Mapping struct {
	Source      string
	DataType    string
	Rules       []Rule
	PostProcess PostProcessor
}

// MissingFieldError marks a required source field that was absent with no
// default. Collectors surface it as a validation failure.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %q missing from source record", e.Field)
}

// Apply transforms one raw record. Deterministic: equal inputs yield equal
// outputs. Unknown source fields are ignored.
func (m *Mapping) Apply(record map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m.Rules))
	for _, rule := range m.Rules {
		raw, present := record[rule.Source]
		if !present || raw == nil {
			if rule.Default != nil {
				out[rule.Target] = rule.Default
				continue
			}
			if rule.Required {
				return nil, errs.E(errs.CategoryValidation, "apply mapping", &MissingFieldError{Field: rule.Source})
			}
			out[rule.Target] = nil
			continue
		}

		if rule.Converter != nil {
			v, err := rule.Converter(raw)
			if err != nil {
				// Transformation failures fall back to the default.
				log.Debug().Err(err).Str("field", rule.Source).Msg("converter failed, using default")
				out[rule.Target] = rule.Default
				continue
			}
			out[rule.Target] = v
			continue
		}
		out[rule.Target] = coerce(raw, rule)
	}

	if m.PostProcess != nil {
		out = m.PostProcess(out)
	}
	return out, nil
}

// ApplyBatch maps records one at a time. A failing record is logged and
// dropped; the batch continues.
func (m *Mapping) ApplyBatch(records []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(records))
	for i, rec := range records {
		mapped, err := m.Apply(rec)
		if err != nil {
			log.Warn().Err(err).
				Str("source", m.Source).
				Str("data_type", m.DataType).
				Int("index", i).
				Msg("record dropped during mapping")
			continue
		}
		out = append(out, mapped)
	}
	return out
}

func coerce(raw interface{}, rule Rule) interface{} {
	switch rule.Type {
	case TypeString:
		return convert.ToString(raw, defString(rule.Default))
	case TypeInt:
		return convert.ToInt(raw, defInt(rule.Default))
	case TypeFloat:
		return convert.ToFloat(raw, defFloat(rule.Default))
	case TypeDecimal:
		return convert.ToDecimal(raw, decimal.Zero)
	case TypeDate:
		return nilIfZero(convert.ToDate(raw, time.Time{}))
	case TypeDateTime:
		return nilIfZero(convert.ToDateTime(raw, time.Time{}))
	case TypeBool:
		return convert.ToBool(raw, false)
	case TypePercentage:
		return convert.ToPercent(raw, true, 0)
	default: // TypeRaw and unknown types pass through untouched
		return raw
	}
}

func nilIfZero(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func defString(d interface{}) string {
	if s, ok := d.(string); ok {
		return s
	}
	return ""
}

func defInt(d interface{}) int64 {
	switch v := d.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func defFloat(d interface{}) float64 {
	switch v := d.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
