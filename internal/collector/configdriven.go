package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/openfinance/datacenter/internal/cache"
	"github.com/openfinance/datacenter/internal/config"
	"github.com/openfinance/datacenter/internal/convert"
	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/mapping"
	"github.com/openfinance/datacenter/internal/netx/client"
	"github.com/openfinance/datacenter/internal/netx/ratelimit"
	"github.com/openfinance/datacenter/internal/source"
)

// Reserved run-param keys with dedicated packing behavior. symbols joins
// slices with commas; dates pass through as strings.
const (
	ParamSymbols   = "symbols"
	ParamStartDate = "start_date"
	ParamEndDate   = "end_date"
)

// BuildOptions supplies the environment a declarative collector runs in.
type BuildOptions struct {
	// BaseURL resolves relative request URLs. Usually the source config's
	// base URL.
	BaseURL string
	// APIKey is the source-level key reference; it wins over the spec's
	// auth.api_key. Environment references resolve at call time.
	APIKey  string
	Cache   cache.Cache
	Breaker *gobreaker.CircuitBreaker
	// Health receives the outcome of every upstream request so the source
	// registry's availability tracking reflects real traffic.
	Health *source.Health
	// Mappings is the shared field-mapping registry. The spec's compiled
	// rules register here; a nil registry gets a private one.
	Mappings *mapping.Registry
	// Transport overrides the HTTP round tripper (tests).
	Transport http.RoundTripper
}

// FromSpec builds a runnable collector from a declarative spec. The
// returned Base owns one HTTP client for its lifetime.
func FromSpec(spec *Spec, opts BuildOptions) (*Base, error) {
	rules, err := spec.Rules()
	if err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "build collector", err)
	}
	mappings := opts.Mappings
	if mappings == nil {
		mappings = mapping.NewRegistry()
	}
	if len(rules) > 0 {
		mappings.Register(&mapping.Mapping{
			Source:   spec.Source,
			DataType: string(spec.DataType),
			Rules:    rules,
		})
	}

	retry := client.DefaultRetryPolicy()
	if spec.MaxRetries > 0 {
		retry.MaxRetries = spec.MaxRetries
	}
	httpClient := client.New(client.Options{
		Source:    spec.Source,
		Timeout:   spec.Request.Timeout(),
		Headers:   spec.Request.Headers,
		Retry:     retry,
		Rate:      ratelimit.Policy{RequestsPerSecond: spec.RateLimit},
		Breaker:   opts.Breaker,
		Cache:     opts.Cache,
		Transport: opts.Transport,
	})

	cd := &configDriven{spec: spec, opts: opts, client: httpClient, mappings: mappings}
	base := NewBase(Settings{
		Source:          spec.Source,
		DataType:        spec.DataType,
		Frequency:       spec.Frequency,
		RetryCount:      1, // the HTTP client already retries transport failures
		DedupEnabled:    spec.Dedup(),
		DedupKeys:       spec.DedupKeys,
		ValidateEnabled: len(spec.RequiredFields) > 0,
		RequiredFields:  spec.RequiredFields,
	}, cd.fetch, Hooks{
		Cleanup: func(ctx context.Context) error {
			httpClient.Close()
			return nil
		},
	})
	return base, nil
}

type configDriven struct {
	spec     *Spec
	opts     BuildOptions
	client   *client.Client
	mappings *mapping.Registry
}

// fetch runs one declarative collection: substitute the URL, resolve
// auth, page through the endpoint, extract and map records.
func (c *configDriven) fetch(ctx context.Context, params Params) ([]map[string]interface{}, error) {
	rawURL, query, err := c.buildRequest(params)
	if err != nil {
		return nil, err
	}
	headers, err := c.authHeaders()
	if err != nil {
		return nil, err
	}

	pg := c.spec.Request.Pagination
	if pg == nil || pg.PageParam == "" {
		resp, err := c.execute(ctx, rawURL, query, headers)
		if err != nil {
			return nil, err
		}
		records, err := c.parse(resp)
		if err != nil {
			return nil, err
		}
		return c.stamp(records), nil
	}

	page := pg.StartPage
	if page <= 0 {
		page = 1
	}
	size := pg.PageSize
	if size <= 0 {
		size = 100
	}
	maxPages := pg.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}

	var all []map[string]interface{}
	total := -1
	for fetched := 0; fetched < maxPages; fetched++ {
		q := cloneValues(query)
		q.Set(pg.PageParam, fmt.Sprintf("%d", page))
		if pg.SizeParam != "" {
			q.Set(pg.SizeParam, fmt.Sprintf("%d", size))
		}
		resp, err := c.execute(ctx, rawURL, q, headers)
		if err != nil {
			return nil, err
		}
		if total < 0 && c.spec.Parser.TotalPath != "" {
			if v, ok := lookupPath(resp.JSON, c.spec.Parser.TotalPath); ok {
				total = int(convert.ToInt(v, 0))
			}
		}
		records, err := c.parse(resp)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		all = append(all, records...)
		if total >= 0 && len(all) >= total {
			break
		}
		page++
	}
	return c.stamp(all), nil
}

// stamp annotates records with their provenance: the source id, the
// capture timestamp, and the session trade date when the upstream payload
// carries none. Runs before dedup so date-scoped dedup keys resolve.
func (c *configDriven) stamp(records []map[string]interface{}) []map[string]interface{} {
	now := time.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, rec := range records {
		if v, ok := rec["source"]; !ok || v == nil {
			rec["source"] = c.spec.Source
		}
		if v, ok := rec["captured_at"]; !ok || v == nil {
			rec["captured_at"] = now
		}
		if v, ok := rec["trade_date"]; !ok || v == nil {
			rec["trade_date"] = day
		}
	}
	return records
}

// buildRequest substitutes {placeholders} in the URL from run params and
// assembles the query from static params plus the remaining run params.
func (c *configDriven) buildRequest(params Params) (string, url.Values, error) {
	rawURL := c.spec.Request.URL
	if !strings.Contains(rawURL, "://") && c.opts.BaseURL != "" {
		rawURL = strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
	}

	consumed := make(map[string]bool)
	for key, val := range params {
		placeholder := "{" + key + "}"
		if strings.Contains(rawURL, placeholder) {
			rawURL = strings.ReplaceAll(rawURL, placeholder, url.PathEscape(paramString(val)))
			consumed[key] = true
		}
	}
	if i := strings.Index(rawURL, "{"); i >= 0 {
		if j := strings.Index(rawURL[i:], "}"); j >= 0 {
			return "", nil, errs.E(errs.CategoryConfiguration, "build request",
				fmt.Errorf("unresolved URL placeholder %s", rawURL[i:i+j+1]))
		}
	}

	query := url.Values{}
	for k, v := range c.spec.Request.Params {
		query.Set(k, v)
	}
	for key, val := range params {
		if consumed[key] {
			continue
		}
		query.Set(key, paramString(val))
	}
	return rawURL, query, nil
}

// authHeaders resolves the API key at call time so rotated environment
// values take effect without a restart.
func (c *configDriven) authHeaders() (map[string]string, error) {
	auth := c.spec.Auth
	if auth.Type == "" || auth.Type == "none" {
		return nil, nil
	}
	ref := c.opts.APIKey
	if ref == "" {
		ref = auth.APIKey
	}
	key := config.ExpandEnv(ref)
	if key == "" {
		return nil, errs.E(errs.CategoryConfiguration, "resolve api key",
			fmt.Errorf("collector %s: auth type %s but no api key resolves", c.spec.CollectorID, auth.Type))
	}

	switch auth.Type {
	case "bearer":
		return map[string]string{"Authorization": "Bearer " + key}, nil
	case "api_key", "custom":
		header := auth.HeaderName
		if header == "" {
			header = "X-Api-Key"
		}
		value := key
		if auth.Prefix != "" {
			value = auth.Prefix + key
		}
		return map[string]string{header: value}, nil
	}
	return nil, nil
}

func (c *configDriven) execute(ctx context.Context, rawURL string, query url.Values, headers map[string]string) (*client.Response, error) {
	var resp *client.Response
	var err error
	if c.spec.Request.Method == http.MethodPost {
		if len(c.spec.Request.Body) > 0 {
			u := rawURL
			if len(query) > 0 {
				u += "?" + query.Encode()
			}
			resp, err = c.client.PostJSON(ctx, u, c.spec.Request.Body, headers)
		} else {
			form := url.Values{}
			for k, vs := range query {
				for _, v := range vs {
					form.Add(k, v)
				}
			}
			resp, err = c.client.PostForm(ctx, rawURL, form, headers)
		}
	} else {
		resp, err = c.client.Get(ctx, rawURL, query, headers)
	}
	if err != nil {
		if c.opts.Health != nil {
			c.opts.Health.RecordFailure()
		}
		return nil, err
	}
	if !resp.OK() {
		if c.opts.Health != nil {
			c.opts.Health.RecordFailure()
		}
		return nil, errs.E(errs.CategoryExternal, "collect",
			fmt.Errorf("%s returned HTTP %d", c.spec.Source, resp.Status))
	}
	if c.opts.Health != nil {
		c.opts.Health.RecordSuccess(resp.Elapsed)
	}
	return resp, nil
}

// parse applies the error check, extracts the record array and runs the
// field mapping.
func (c *configDriven) parse(resp *client.Response) ([]map[string]interface{}, error) {
	doc := resp.JSON
	if doc == nil {
		return nil, errs.E(errs.CategoryTransformation, "parse response",
			fmt.Errorf("%s: response is not a JSON object", c.spec.Source))
	}

	if p := c.spec.Parser.ErrorPath; p != "" {
		want := c.spec.Parser.ErrorCheck
		if want == "" {
			want = "0"
		}
		if v, ok := lookupPath(doc, p); ok && stringify(v) != want {
			msg := stringify(v)
			if m, found := lookupPath(doc, "message"); found {
				msg = stringify(m)
			}
			return nil, errs.E(errs.CategoryExternal, "collect",
				fmt.Errorf("%s reported error: %s", c.spec.Source, msg))
		}
	}

	raw, err := c.extractRecords(doc)
	if err != nil {
		return nil, err
	}
	// Resolve the mapping per page: a re-registered mapping takes effect
	// without rebuilding the collector.
	m, err := c.mappings.Get(c.spec.Source, string(c.spec.DataType))
	if err != nil {
		return raw, nil
	}
	return m.ApplyBatch(raw), nil
}

// extractRecords navigates data_path, falling back to the conventional
// container keys when no path is configured.
func (c *configDriven) extractRecords(doc map[string]interface{}) ([]map[string]interface{}, error) {
	var node interface{}
	if p := c.spec.Parser.DataPath; p != "" {
		v, ok := lookupPath(doc, p)
		if !ok {
			return nil, errs.E(errs.CategoryTransformation, "extract records",
				fmt.Errorf("%s: data path %q not found in response", c.spec.Source, p))
		}
		node = v
	} else {
		for _, key := range []string{"data", "items", "results", "list"} {
			if v, ok := doc[key]; ok {
				node = v
				break
			}
		}
		if node == nil {
			node = doc
		}
	}

	switch v := node.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(map[string]interface{}); ok {
				out = append(out, rec)
			}
		}
		return out, nil
	case map[string]interface{}:
		// A single object counts as a one-record page.
		return []map[string]interface{}{v}, nil
	default:
		return nil, errs.E(errs.CategoryTransformation, "extract records",
			fmt.Errorf("%s: unexpected record container %T", c.spec.Source, node))
	}
}

// lookupPath walks a dotted path through nested JSON objects.
func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func paramString(v interface{}) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ",")
	case []interface{}:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ",")
	default:
		return stringify(v)
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
