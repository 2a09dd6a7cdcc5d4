package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/metrics"
	"github.com/openfinance/datacenter/internal/models"
	"github.com/openfinance/datacenter/internal/source"
	"github.com/openfinance/datacenter/internal/task"
)

type okTask struct{ meta task.Metadata }

func (t okTask) Metadata() task.Metadata { return t.meta }

func (t okTask) Collect(_ context.Context, _ map[string]interface{}) ([]map[string]interface{}, error) {
	return []map[string]interface{}{{"code": "600000"}}, nil
}

func (t okTask) Validate(records []map[string]interface{}) ([]map[string]interface{}, error) {
	return records, nil
}

func (t okTask) Save(_ context.Context, records []map[string]interface{}) (int, error) {
	return len(records), nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	health := errs.NewHealthService()
	health.RegisterCheck("db", func(ctx context.Context) errs.HealthStatus {
		return errs.HealthStatus{Healthy: true}
	})

	sources := source.NewRegistry()
	sources.Register(source.Config{ID: "eastmoney", BaseURL: "https://push2.eastmoney.com"}, source.Capabilities{})

	tasks := task.NewRegistry()
	require.NoError(t, tasks.Register(okTask{meta: task.Metadata{TaskID: "quotes", Name: "Quotes", Category: "quote"}}))

	return New(Options{
		Health:  health,
		Sources: sources,
		Tasks:   tasks,
		Metrics: metrics.New(),
	})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)
	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Healthy bool                `json:"healthy"`
		Checks  []errs.HealthStatus `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "db", resp.Checks[0].Name)
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	health := errs.NewHealthService()
	health.RegisterCheck("db", func(ctx context.Context) errs.HealthStatus {
		return errs.HealthStatus{Healthy: false, Detail: "connection refused"}
	})
	s := New(Options{Health: health})

	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSourcesEndpoint(t *testing.T) {
	s := testServer(t)
	w := do(t, s, http.MethodGet, "/sources", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snapshots map[string]source.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshots))
	assert.Contains(t, snapshots, "eastmoney")
}

func TestSelectSourceEndpoint(t *testing.T) {
	s := testServer(t)
	require.NoError(t, s.opts.Sources.ExtendCapabilities("eastmoney", models.TypeQuote, models.FreqTick))

	w := do(t, s, http.MethodGet, "/sources/select?data_type=quote&frequency=tick&realtime=true", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Source string          `json:"source"`
		Health source.Snapshot `json:"health"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "eastmoney", resp.Source)

	w = do(t, s, http.MethodGet, "/sources/select?data_type=option", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no source serves options")

	w = do(t, s, http.MethodGet, "/sources/select", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTasksEndpoint(t *testing.T) {
	s := testServer(t)
	w := do(t, s, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)

	var metas []task.Metadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, "quotes", metas[0].TaskID)

	w = do(t, s, http.MethodGet, "/tasks?category=news", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metas))
	assert.Empty(t, metas)
}

func TestRunTaskEndpoint(t *testing.T) {
	s := testServer(t)
	w := do(t, s, http.MethodPost, "/tasks/quotes/run", `{"symbols": "600000"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result task.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, task.StageCompleted, result.Stage)
	assert.Equal(t, 1, result.RecordsSaved)
}

func TestRunTaskUnknown(t *testing.T) {
	s := testServer(t)
	w := do(t, s, http.MethodPost, "/tasks/ghost/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobsWithoutScheduler(t *testing.T) {
	s := testServer(t)
	w := do(t, s, http.MethodGet, "/jobs", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodPost, "/jobs/any/trigger", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t)
	do(t, s, http.MethodGet, "/health", "")

	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "datacenter_http_requests_total")
}

func TestShutdownIdempotent(t *testing.T) {
	s := testServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
