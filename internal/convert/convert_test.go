package convert

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToFloat(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		def  float64
		want float64
	}{
		{"nil", nil, -1, -1},
		{"empty", "", -1, -1},
		{"dash", "-", -1, -1},
		{"double dash", "--", -1, -1},
		{"float", 9.87, 0, 9.87},
		{"int", 42, 0, 42},
		{"string", "3.14", 0, 3.14},
		{"thousands", "1,234,567.5", 0, 1234567.5},
		{"percent suffix", "12.5%", 0, 12.5},
		{"garbage", "abc", -1, -1},
		{"decimal", decimal.NewFromFloat(2.5), 0, 2.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ToFloat(tc.in, tc.def))
		})
	}
}

func TestToInt(t *testing.T) {
	assert.Equal(t, int64(100), ToInt("100", 0))
	assert.Equal(t, int64(1234), ToInt("1,234", 0))
	assert.Equal(t, int64(3), ToInt(3.9, 0))
	assert.Equal(t, int64(7), ToInt("7.2", 0))
	assert.Equal(t, int64(-5), ToInt(nil, -5))
	assert.Equal(t, int64(-5), ToInt("n/a", -5))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "600000", ToString("  600000 ", ""))
	assert.Equal(t, "9.87", ToString(9.87, ""))
	assert.Equal(t, "42", ToString(int64(42), ""))
	assert.Equal(t, "fallback", ToString(nil, "fallback"))
	assert.Equal(t, "fallback", ToString("--", "fallback"))
}

func TestToBool(t *testing.T) {
	assert.True(t, ToBool("yes", false))
	assert.True(t, ToBool(1, false))
	assert.False(t, ToBool("0", true))
	assert.True(t, ToBool("maybe", true))
}

func TestToDate(t *testing.T) {
	want := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-06-03", "2024/06/03", "20240603", "2024-06-03 09:30:00", "2024-06-03T09:30:00Z"} {
		assert.Equal(t, want, ToDate(in, time.Time{}), "input %q", in)
	}
	assert.True(t, ToDate("not a date", time.Time{}).IsZero())
	assert.True(t, ToDate(nil, time.Time{}).IsZero())
}

func TestToDateTimeUnix(t *testing.T) {
	sec := int64(1717401600)
	assert.Equal(t, time.Unix(sec, 0).UTC(), ToDateTime(sec, time.Time{}))
	assert.Equal(t, time.UnixMilli(sec*1000).UTC(), ToDateTime(sec*1000, time.Time{}))
}

func TestToPercent(t *testing.T) {
	// Explicit percent sign always rescales.
	assert.InDelta(t, 0.125, ToPercent("12.5%", false, 0), 1e-9)
	// Magnitude heuristic only applies when the caller opts in.
	assert.InDelta(t, 0.012, ToPercent(1.2, true, 0), 1e-9)
	assert.InDelta(t, 1.2, ToPercent(1.2, false, 0), 1e-9)
	// Ratios below one pass through unchanged either way.
	assert.InDelta(t, 0.5, ToPercent(0.5, true, 0), 1e-9)
	assert.Equal(t, -1.0, ToPercent("-", true, -1))
}

func TestConvertersNeverPanic(t *testing.T) {
	inputs := []interface{}{nil, "", "-", "--", "abc", 1.5, -3, struct{}{}, []int{1}, map[string]int{"a": 1}}
	for _, in := range inputs {
		ToFloat(in, 0)
		ToInt(in, 0)
		ToString(in, "")
		ToBool(in, false)
		ToDate(in, time.Time{})
		ToDateTime(in, time.Time{})
		ToPercent(in, true, 0)
		ToDecimal(in, decimal.Zero)
	}
}
