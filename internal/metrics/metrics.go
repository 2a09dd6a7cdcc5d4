// Package metrics exposes Prometheus instrumentation for the collection
// pipeline and storage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every instrument on one registry so tests and the
// server can own isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RecordsCollected   *prometheus.CounterVec
	CollectionErrors   *prometheus.CounterVec
	CollectionDuration *prometheus.HistogramVec
	RecordsWritten     *prometheus.CounterVec
	WriteDuration      *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	SourceUp           *prometheus.GaugeVec
	JobsRunning        prometheus.Gauge
}

// New builds a metrics bundle with the standard Go and process
// collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		RecordsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacenter",
			Name:      "records_collected_total",
			Help:      "Records fetched from upstream sources.",
		}, []string{"source", "data_type"}),
		CollectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacenter",
			Name:      "collection_errors_total",
			Help:      "Failed collection runs.",
		}, []string{"source", "data_type"}),
		CollectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datacenter",
			Name:      "collection_duration_seconds",
			Help:      "Wall time of collection runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source", "data_type"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacenter",
			Name:      "records_written_total",
			Help:      "Rows upserted into storage.",
		}, []string{"table"}),
		WriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datacenter",
			Name:      "write_duration_seconds",
			Help:      "Wall time of storage batches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"table"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacenter",
			Name:      "http_requests_total",
			Help:      "Admin API requests by route and status.",
		}, []string{"route", "status"}),
		SourceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "datacenter",
			Name:      "source_up",
			Help:      "Source availability: 1 available, 0.5 degraded, 0 unavailable.",
		}, []string{"source"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "datacenter",
			Name:      "jobs_running",
			Help:      "Scheduled jobs currently in flight.",
		}),
	}
	reg.MustRegister(
		m.RecordsCollected,
		m.CollectionErrors,
		m.CollectionDuration,
		m.RecordsWritten,
		m.WriteDuration,
		m.HTTPRequests,
		m.SourceUp,
		m.JobsRunning,
	)
	return m
}

// Registry returns the underlying Prometheus registry for the /metrics
// handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCollection records the outcome of one collection run.
func (m *Metrics) ObserveCollection(source, dataType string, records int, duration time.Duration, failed bool) {
	labels := prometheus.Labels{"source": source, "data_type": dataType}
	if failed {
		m.CollectionErrors.With(labels).Inc()
	} else {
		m.RecordsCollected.With(labels).Add(float64(records))
	}
	m.CollectionDuration.With(labels).Observe(duration.Seconds())
}

// ObserveWrite records one storage batch.
func (m *Metrics) ObserveWrite(table string, rows int, duration time.Duration) {
	m.RecordsWritten.WithLabelValues(table).Add(float64(rows))
	m.WriteDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// SetSourceStatus maps a source health status onto the gauge.
func (m *Metrics) SetSourceStatus(source string, status string) {
	v := 0.0
	switch status {
	case "available":
		v = 1
	case "degraded":
		v = 0.5
	}
	m.SourceUp.WithLabelValues(source).Set(v)
}
