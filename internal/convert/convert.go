package convert

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Converters in this package are total: any input either coerces to the
// target type or falls back to the supplied default. They never panic on
// malformed upstream data.

// absent reports whether a raw scalar should be treated as missing.
// Third-party quote endpoints commonly use "-" or "--" for empty cells.
func absent(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		t := strings.TrimSpace(s)
		return t == "" || t == "-" || t == "--"
	}
	return false
}

// cleanNumeric strips thousand separators and a trailing percent sign.
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	return s
}

// ToFloat coerces v into a float64, returning def when the value is absent
// or unparseable.
func ToFloat(v interface{}, def float64) float64 {
	if absent(v) {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case decimal.Decimal:
		f, _ := x.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(cleanNumeric(x), 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// ToInt coerces v into an int64, truncating fractional input.
func ToInt(v interface{}, def int64) int64 {
	if absent(v) {
		return def
	}
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	case float32:
		return int64(x)
	case decimal.Decimal:
		return x.IntPart()
	case string:
		s := cleanNumeric(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
		return def
	default:
		return def
	}
}

// ToString coerces v into a string. Floats render without exponent noise.
func ToString(v interface{}, def string) string {
	if absent(v) {
		return def
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ToDecimal coerces v into a shopspring decimal for exact money math.
func ToDecimal(v interface{}, def decimal.Decimal) decimal.Decimal {
	if absent(v) {
		return def
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x
	case float64:
		return decimal.NewFromFloat(x)
	case float32:
		return decimal.NewFromFloat32(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case string:
		d, err := decimal.NewFromString(cleanNumeric(x))
		if err != nil {
			return def
		}
		return d
	default:
		return def
	}
}

// ToBool coerces v into a bool. Accepts numeric truthiness and the usual
// string spellings.
func ToBool(v interface{}, def bool) bool {
	if absent(v) {
		return def
	}
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			return true
		case "false", "no", "n", "0":
			return false
		}
		return def
	default:
		return def
	}
}

// dateLayouts is the fixed, ordered list of accepted date formats.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ToDate parses v into a date truncated to midnight UTC. Returns def on
// failure.
func ToDate(v interface{}, def time.Time) time.Time {
	t := ToDateTime(v, def)
	if t.Equal(def) {
		return def
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ToDateTime parses v into a timestamp, trying the fixed layout list then
// falling back to unix seconds/milliseconds for numeric input.
func ToDateTime(v interface{}, def time.Time) time.Time {
	if absent(v) {
		return def
	}
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return def
	case int64:
		return fromUnix(x)
	case int:
		return fromUnix(int64(x))
	case float64:
		return fromUnix(int64(x))
	default:
		return def
	}
}

// fromUnix treats values above 1e12 as milliseconds.
func fromUnix(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// ToPercent converts a percentage-ish value into a decimal ratio. A value
// carrying a trailing "%" is always divided by 100. A bare number with
// magnitude > 1 is divided only when isPercentage is set; bare ratios are
// never rescaled without the caller opting in.
func ToPercent(v interface{}, isPercentage bool, def float64) float64 {
	if absent(v) {
		return def
	}
	explicit := false
	if s, ok := v.(string); ok && strings.HasSuffix(strings.TrimSpace(s), "%") {
		explicit = true
	}
	f := ToFloat(v, def)
	if f == def && !explicit {
		return def
	}
	if explicit {
		return f / 100
	}
	if isPercentage && (f > 1 || f < -1) {
		return f / 100
	}
	return f
}
