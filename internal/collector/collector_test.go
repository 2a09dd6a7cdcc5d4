package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfinance/datacenter/internal/mapping"
	"github.com/openfinance/datacenter/internal/models"
	"github.com/openfinance/datacenter/internal/source"
)

func quoteSpec(baseURL string) *Spec {
	spec := &Spec{
		CollectorID: "eastmoney_quote",
		Name:        "Eastmoney realtime quotes",
		Source:      "eastmoney",
		DataType:    models.TypeQuote,
		Frequency:   models.FreqTick,
		Request: RequestSpec{
			Method: "GET",
			URL:    baseURL + "/api/qt/clist/get",
			Params: map[string]string{"po": "1", "fltt": "2"},
		},
		Parser: ParserSpec{DataPath: "data.diff"},
		FieldMapping: map[string]interface{}{
			"f12": map[string]interface{}{"target": "code", "type": "string"},
			"f14": map[string]interface{}{"target": "name", "type": "string"},
			"f2":  map[string]interface{}{"target": "price", "type": "float"},
			"f3":  map[string]interface{}{"target": "change_pct", "type": "float"},
			"f5":  map[string]interface{}{"target": "volume", "type": "int"},
		},
		DedupKeys:      []string{"code"},
		RequiredFields: []string{"code", "price"},
	}
	return spec
}

func TestConfigDrivenSinglePage(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("po")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[
			{"f12":"600000","f14":"PF Bank","f2":10.55,"f3":1.25,"f5":1234567}
		]}}`)
	}))
	defer srv.Close()

	base, err := FromSpec(quoteSpec(srv.URL), BuildOptions{})
	require.NoError(t, err)
	require.NoError(t, base.Start(context.Background()))
	defer base.Stop(context.Background())

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.RecordsCollected)
	assert.Equal(t, 1, result.RecordsValid)
	assert.Equal(t, 0, result.RecordsDeduplicated)
	assert.Equal(t, "/api/qt/clist/get", gotPath)
	assert.Equal(t, "1", gotQuery, "static params forwarded")

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "600000", rec["code"])
	assert.Equal(t, "PF Bank", rec["name"])
	assert.Equal(t, 10.55, rec["price"])
	assert.Equal(t, int64(1234567), rec["volume"])
	_, hasRaw := rec["f12"]
	assert.False(t, hasRaw, "source field names do not leak into canonical records")
}

func TestConfigDrivenStampsProvenance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[
			{"f12":"600000","f2":10.0,"f7":"2024-01-02"},
			{"f12":"000001","f2":9.0}
		]}}`)
	}))
	defer srv.Close()

	spec := quoteSpec(srv.URL)
	spec.FieldMapping["f7"] = map[string]interface{}{"target": "trade_date", "type": "date"}
	spec.DedupKeys = []string{"code", "trade_date"}

	base, err := FromSpec(spec, BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Records, 2)

	upstream, stamped := result.Records[0], result.Records[1]
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), upstream["trade_date"],
		"a date the payload carries is never overwritten")

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	assert.Equal(t, today, stamped["trade_date"], "records without a date get the session date")
	for _, rec := range result.Records {
		assert.Equal(t, "eastmoney", rec["source"])
		capturedAt, ok := rec["captured_at"].(time.Time)
		require.True(t, ok, "captured_at must be a timestamp, got %T", rec["captured_at"])
		assert.False(t, capturedAt.IsZero())
	}
}

func TestConfigDrivenRecordsSourceHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[{"f12":"600000","f2":10.0}]}}`)
	}))
	defer srv.Close()

	health := &source.Health{}
	base, err := FromSpec(quoteSpec(srv.URL), BuildOptions{Health: health})
	require.NoError(t, err)

	_, err = base.Collect(context.Background(), nil)
	require.NoError(t, err)
	snap := health.Snapshot()
	assert.EqualValues(t, 1, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.SuccessCount)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer failing.Close()

	base, err = FromSpec(quoteSpec(failing.URL), BuildOptions{Health: health})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	snap = health.Snapshot()
	assert.EqualValues(t, 2, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.FailureCount)
}

func TestConfigDrivenMappingRegistryOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[{"f12":"600000","f2":10.0}]}}`)
	}))
	defer srv.Close()

	spec := quoteSpec(srv.URL)
	spec.RequiredFields = nil
	spec.DedupKeys = nil

	registry := mapping.NewRegistry()
	base, err := FromSpec(spec, BuildOptions{Mappings: registry})
	require.NoError(t, err)

	// The spec's compiled rules land in the shared registry.
	m, err := registry.Get("eastmoney", string(models.TypeQuote))
	require.NoError(t, err)
	require.NotEmpty(t, m.Rules)

	// A re-registered mapping takes effect on the next run.
	registry.Register(&mapping.Mapping{
		Source:   "eastmoney",
		DataType: string(models.TypeQuote),
		Rules: []mapping.Rule{
			{Source: "f12", Target: "ticker", Type: mapping.TypeString},
		},
	})

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "600000", result.Records[0]["ticker"])
	_, hasOld := result.Records[0]["code"]
	assert.False(t, hasOld, "the replaced mapping no longer applies")
}

func TestConfigDrivenDeduplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[
			{"f12":"600000","f14":"first","f2":10.0},
			{"f12":"600000","f14":"dup-a","f2":10.1},
			{"f12":"000001","f14":"other","f2":9.0},
			{"f12":"600000","f14":"dup-b","f2":10.2}
		]}}`)
	}))
	defer srv.Close()

	base, err := FromSpec(quoteSpec(srv.URL), BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 4, result.RecordsCollected)
	assert.Equal(t, 2, result.RecordsDeduplicated)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "first", result.Records[0]["name"], "first occurrence wins")
	assert.Equal(t, "other", result.Records[1]["name"], "source order preserved")
}

func TestConfigDrivenValidationDropsIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[
			{"f12":"600000","f2":10.0},
			{"f12":"600519","f2":"-"},
			{"f12":"000001","f2":9.0},
			{"f12":"000002","f2":15.5}
		]}}`)
	}))
	defer srv.Close()

	base, err := FromSpec(quoteSpec(srv.URL), BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status, "partial validity never fails the run")
	assert.Equal(t, 4, result.RecordsCollected)
	assert.Equal(t, 3, result.RecordsValid, "record with absent price is dropped")
}

func TestConfigDrivenErrorCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"code":40203,"message":"token invalid","data":null}`)
	}))
	defer srv.Close()

	spec := quoteSpec(srv.URL)
	spec.Parser = ParserSpec{DataPath: "data", ErrorPath: "code", ErrorCheck: "0"}

	base, err := FromSpec(spec, BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err, "upstream errors fold into the result")
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "token invalid")
}

func TestConfigDrivenPagination(t *testing.T) {
	pages := map[string][]map[string]interface{}{
		"1": {{"f12": "600000", "f2": 10.0}, {"f12": "600519", "f2": 1720.0}},
		"2": {{"f12": "000001", "f2": 9.0}},
	}
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		page := r.URL.Query().Get("pn")
		assert.Equal(t, "2", r.URL.Query().Get("pz"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"total": 3, "diff": pages[page]},
		})
	}))
	defer srv.Close()

	spec := quoteSpec(srv.URL)
	spec.Request.Pagination = &PaginationSpec{PageParam: "pn", SizeParam: "pz", PageSize: 2}
	spec.Parser.TotalPath = "data.total"

	base, err := FromSpec(spec, BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.RecordsCollected)
	assert.Equal(t, 2, hits, "stops once total is reached")
}

func TestConfigDrivenURLPlaceholders(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[{"f12":"600000","f2":10.0}]}}`)
	}))
	defer srv.Close()

	spec := quoteSpec(srv.URL)
	spec.Request.URL = srv.URL + "/api/kline/{symbol}"

	base, err := FromSpec(spec, BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), Params{"symbol": "600000.SH"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "/api/kline/600000.SH", gotPath)
}

func TestConfigDrivenUnresolvedPlaceholderFails(t *testing.T) {
	spec := quoteSpec("http://localhost")
	spec.Request.URL = "http://localhost/api/kline/{symbol}"

	base, err := FromSpec(spec, BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "{symbol}")
}

func TestConfigDrivenAuthHeaders(t *testing.T) {
	t.Setenv("TUSHARE_TOKEN", "secret-token")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[{"f12":"600000","f2":10.0}]}}`)
	}))
	defer srv.Close()

	spec := quoteSpec(srv.URL)
	spec.Auth = AuthSpec{Type: "bearer", APIKey: "${TUSHARE_TOKEN}"}

	base, err := FromSpec(spec, BuildOptions{})
	require.NoError(t, err)

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestConfigDrivenSymbolsParamJoins(t *testing.T) {
	var gotSymbols string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbols = r.URL.Query().Get("symbols")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"diff":[]}}`)
	}))
	defer srv.Close()

	base, err := FromSpec(quoteSpec(srv.URL), BuildOptions{})
	require.NoError(t, err)

	_, err = base.Collect(context.Background(), Params{ParamSymbols: []string{"600000", "000001"}})
	require.NoError(t, err)
	assert.Equal(t, "600000,000001", gotSymbols)
}

func TestParseSpecShortAndLongMapping(t *testing.T) {
	spec, err := ParseSpec([]byte(`
collector_id: demo
source: eastmoney
data_type: quote
request:
  url: https://example.com/api
field_mapping:
  f12: code
  f2:
    target: price
    type: float
    default: 0.0
`))
	require.NoError(t, err)

	rules, err := spec.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	byTarget := map[string]bool{}
	for _, r := range rules {
		byTarget[r.Target] = true
	}
	assert.True(t, byTarget["code"])
	assert.True(t, byTarget["price"])
}

func TestParseSpecRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing id", `source: x` + "\n" + `request: {url: https://e.com}`},
		{"missing url", `collector_id: a` + "\n" + `source: x`},
		{"bad method", "collector_id: a\nsource: x\nrequest: {url: https://e.com, method: DELETE}"},
		{"bad auth", "collector_id: a\nsource: x\nrequest: {url: https://e.com}\nauth: {type: oauth2}"},
		{"unknown converter", "collector_id: a\nsource: x\nrequest: {url: https://e.com}\nfield_mapping:\n  f1:\n    target: t\n    converter: nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSpec([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRecordHashDeterministic(t *testing.T) {
	rec := map[string]interface{}{"code": "600000", "date": "2024-01-02", "price": 10.5}
	h1 := RecordHash(rec, []string{"date", "code"})
	h2 := RecordHash(rec, []string{"code", "date"})
	assert.Equal(t, h1, h2, "key order does not affect the hash")

	other := map[string]interface{}{"code": "600000", "date": "2024-01-03"}
	assert.NotEqual(t, h1, RecordHash(other, []string{"code", "date"}))
}

func TestRecordHashAbsentEqualsNil(t *testing.T) {
	absent := map[string]interface{}{"code": "600000"}
	explicit := map[string]interface{}{"code": "600000", "date": nil}
	assert.Equal(t,
		RecordHash(absent, []string{"code", "date"}),
		RecordHash(explicit, []string{"code", "date"}))
}

func TestBaseRetriesFetch(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, params Params) ([]map[string]interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return []map[string]interface{}{{"code": "600000"}}, nil
	}
	base := NewBase(Settings{
		Source: "test", DataType: models.TypeQuote,
		RetryCount: 3, RetryDelay: time.Millisecond,
	}, fetch, Hooks{})

	result, err := base.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, calls)
}

func TestBaseCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(ctx context.Context, params Params) ([]map[string]interface{}, error) {
		cancel()
		return nil, ctx.Err()
	}
	base := NewBase(Settings{
		Source: "test", DataType: models.TypeQuote,
		RetryCount: 3, RetryDelay: time.Millisecond,
	}, fetch, Hooks{})

	result, err := base.Collect(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
}

func TestBaseHealthCounters(t *testing.T) {
	fail := errors.New("boom")
	calls := 0
	fetch := func(ctx context.Context, params Params) ([]map[string]interface{}, error) {
		calls++
		if calls == 1 {
			return nil, fail
		}
		return nil, nil
	}
	base := NewBase(Settings{Source: "test", RetryCount: 1, RetryDelay: time.Millisecond}, fetch, Hooks{})

	base.Collect(context.Background(), nil)
	base.Collect(context.Background(), nil)

	health := base.HealthCheck()
	assert.EqualValues(t, 1, health.CollectionCount)
	assert.EqualValues(t, 1, health.ErrorCount)
	assert.Equal(t, 0.5, health.ErrorRate)
	assert.False(t, health.LastCollectionTime.IsZero())
}
