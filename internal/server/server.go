// Package server exposes the admin HTTP surface: health, metrics,
// source status, task listing and on-demand runs.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/metrics"
	"github.com/openfinance/datacenter/internal/models"
	"github.com/openfinance/datacenter/internal/scheduler"
	"github.com/openfinance/datacenter/internal/source"
	"github.com/openfinance/datacenter/internal/task"
)

// Options wires the server's dependencies. Nil fields disable the
// corresponding routes' content, not the routes themselves.
type Options struct {
	Addr      string
	Health    *errs.HealthService
	Sources   *source.Registry
	Tasks     *task.Registry
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
}

// Server is the admin HTTP endpoint.
type Server struct {
	opts   Options
	router *mux.Router
	http   *http.Server
	logger zerolog.Logger
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: log.With().Str("component", "server").Logger(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.opts.Addr).Msg("admin server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.Use(s.instrument)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	s.router.HandleFunc("/sources/select", s.handleSelectSource).Methods(http.MethodGet)
	s.router.HandleFunc("/tasks", s.handleTasks).Methods(http.MethodGet)
	s.router.HandleFunc("/tasks/{id}/run", s.handleRunTask).Methods(http.MethodPost)
	s.router.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{name}/trigger", s.handleTriggerJob).Methods(http.MethodPost)
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(
			s.opts.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
}

// instrument counts requests per route and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.opts.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"healthy": true})
		return
	}
	statuses, healthy := s.opts.Health.Report(r.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"healthy": healthy,
		"checks":  statuses,
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sources == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Sources.Snapshots())
}

// handleSelectSource ranks registered sources for a data type and returns
// the one a collector should prefer right now.
func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sources == nil {
		writeError(w, http.StatusNotFound, "no sources registered")
		return
	}
	dataType := models.DataType(r.URL.Query().Get("data_type"))
	if dataType == "" {
		writeError(w, http.StatusBadRequest, "data_type is required")
		return
	}
	freq := models.Frequency(r.URL.Query().Get("frequency"))
	realtime, _ := strconv.ParseBool(r.URL.Query().Get("realtime"))

	entry, err := s.opts.Sources.SelectFor(dataType, freq, realtime)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source": entry.Config.ID,
		"health": entry.Health.Snapshot(),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tasks == nil {
		writeJSON(w, http.StatusOK, []task.Metadata{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Tasks.List(r.URL.Query().Get("category")))
}

// handleRunTask executes a task synchronously and returns its result.
// Parameters arrive as a JSON object body.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tasks == nil {
		writeError(w, http.StatusNotFound, "no tasks registered")
		return
	}
	id := mux.Vars(r)["id"]
	exec, err := s.opts.Tasks.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var params map[string]interface{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	result, err := task.Run(r.Context(), exec, params, task.RunOptions{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := http.StatusOK
	if result.Stage != task.StageCompleted {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, result)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Scheduler == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobState{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Scheduler.Jobs())
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	if s.opts.Scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler not running")
		return
	}
	name := mux.Vars(r)["name"]
	if err := s.opts.Scheduler.Trigger(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "triggered"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
