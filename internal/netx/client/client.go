package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/openfinance/datacenter/internal/cache"
	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/netx/ratelimit"
)

const userAgent = "openfinance-datacenter/1.0"

// RetryPolicy controls how failed requests are re-attempted.
type RetryPolicy struct {
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay" json:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base" json:"exponential_base"`
	RetryableStatus map[int]bool  `yaml:"-" json:"-"`
}

// DefaultRetryPolicy retries throttles and transient upstream failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		RetryableStatus: map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true},
	}
}

// Delay computes the backoff before attempt i (zero-based), capped at
// MaxDelay. Monotone non-decreasing for any base >= 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.ExponentialBase
	if base <= 0 {
		base = 2
	}
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= base
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p RetryPolicy) retryable(status int) bool {
	if p.RetryableStatus != nil {
		return p.RetryableStatus[status]
	}
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Request is one outbound HTTP call description.
type Request struct {
	Method   string
	URL      string
	Params   url.Values
	Headers  map[string]string
	Body     []byte
	BodyForm url.Values
	Timeout  time.Duration
}

// Response captures the outcome of an executed request.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	JSON    map[string]interface{}
	Elapsed time.Duration
	Request *Request
}

// OK reports whether the status is a 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// TransportError is raised when every attempt failed without a usable
// response. The last cause is attached.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	Source   string
	Timeout  time.Duration
	Headers  map[string]string
	Retry    RetryPolicy
	Rate     ratelimit.Policy
	Breaker  *gobreaker.CircuitBreaker
	Cache    cache.Cache
	CacheTTL time.Duration
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// Client executes HTTP requests with retry, rate limiting and optional
// circuit breaking. Each collector owns one client for its lifetime.
type Client struct {
	source   string
	http     *http.Client
	headers  map[string]string
	retry    RetryPolicy
	limiter  *ratelimit.Limiter
	breaker  *gobreaker.CircuitBreaker
	cache    cache.Cache
	cacheTTL time.Duration

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a client with a persistent connection pool.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		source:   opts.Source,
		http:     &http.Client{Transport: transport, Timeout: timeout},
		headers:  opts.Headers,
		retry:    opts.Retry,
		limiter:  ratelimit.New(opts.Rate),
		breaker:  opts.Breaker,
		cache:    opts.Cache,
		cacheTTL: ttl,
	}
}

// Close releases idle connections in the pool.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// RequestCount returns total requests attempted since construction.
func (c *Client) RequestCount() int64 { return c.requestCount.Load() }

// ErrorCount returns total failed requests since construction.
func (c *Client) ErrorCount() int64 { return c.errorCount.Load() }

// Get executes a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: rawURL, Params: params, Headers: headers})
}

// PostForm executes a POST with form-encoded body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, URL: rawURL, BodyForm: form, Headers: headers})
}

// PostJSON executes a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body interface{}, headers map[string]string) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errs.E(errs.CategoryInternal, "encode request body", err)
	}
	return c.Do(ctx, &Request{Method: http.MethodPost, URL: rawURL, Body: data, Headers: headers})
}

// Do executes req honoring rate limit, retry policy and circuit breaker.
// A retryable status is retried up to MaxRetries; exhaustion returns the
// last response. Transport failures on every attempt surface as a
// TransportError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	cacheKey := ""
	if c.cache != nil && req.Method == http.MethodGet {
		cacheKey = c.cacheKey(req)
		if data, found := c.cache.Get(ctx, cacheKey); found {
			return decodeResponse(req, http.StatusOK, nil, data, 0), nil
		}
	}

	var lastResp *Response
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.Delay(attempt - 1)
			log.Debug().
				Str("source", c.source).
				Str("url", req.URL).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying request")
			select {
			case <-ctx.Done():
				return lastResp, errs.E(errs.CategoryNetwork, "request cancelled", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return lastResp, errs.E(errs.CategoryNetwork, "rate limit wait", err)
		}

		attempts++
		resp, err := c.execute(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		lastResp = resp
		lastErr = nil
		if !c.retry.retryable(resp.Status) {
			break
		}
	}

	if lastErr != nil && lastResp == nil {
		c.errorCount.Add(1)
		return nil, errs.E(errs.CategoryNetwork, "execute request",
			&TransportError{URL: req.URL, Attempts: attempts, Err: lastErr})
	}
	if !lastResp.OK() {
		c.errorCount.Add(1)
		return lastResp, nil
	}
	if cacheKey != "" {
		c.cache.Set(ctx, cacheKey, lastResp.Body, c.cacheTTL)
	}
	return lastResp, nil
}

// execute performs one attempt, optionally through the circuit breaker.
func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	run := func() (*Response, error) {
		return c.roundTrip(ctx, req)
	}
	if c.breaker == nil {
		return run()
	}
	out, err := c.breaker.Execute(func() (interface{}, error) { return run() })
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	c.requestCount.Add(1)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	finalURL := req.URL
	if len(req.Params) > 0 {
		sep := "?"
		if strings.Contains(finalURL, "?") {
			sep = "&"
		}
		finalURL += sep + req.Params.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.BodyForm != nil:
		body = strings.NewReader(req.BodyForm.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, finalURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return decodeResponse(req, httpResp.StatusCode, httpResp.Header, data, time.Since(start)), nil
}

func decodeResponse(req *Request, status int, headers http.Header, body []byte, elapsed time.Duration) *Response {
	resp := &Response{
		Status:  status,
		Headers: headers,
		Body:    body,
		Elapsed: elapsed,
		Request: req,
	}
	ct := ""
	if headers != nil {
		ct = headers.Get("Content-Type")
	}
	// Cached bodies come back without headers; JSON is the dominant
	// upstream format so a parse attempt is always made for them.
	if strings.Contains(ct, "json") || headers == nil {
		var parsed map[string]interface{}
		if err := json.Unmarshal(body, &parsed); err == nil {
			resp.JSON = parsed
		}
	}
	return resp
}

func (c *Client) cacheKey(req *Request) string {
	key := c.source + ":" + req.Method + ":" + req.URL
	if len(req.Params) > 0 {
		key += "?" + req.Params.Encode()
	}
	return key
}
