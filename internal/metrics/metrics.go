// Package metrics exposes Prometheus metrics for sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/sheetsync/internal/model"
)

const namespace = "sheetsync"

// Metrics holds the sync run metrics. A nil or disabled Metrics accepts
// every call and records nothing.
type Metrics struct {
	FetchAttempts *prometheus.CounterVec
	UnitOutcomes  *prometheus.CounterVec
	RowsLoaded    *prometheus.CounterVec
	LoadDuration  *prometheus.HistogramVec
	RunDuration   prometheus.Histogram
	LastRun       prometheus.Gauge

	registry *prometheus.Registry
	enabled  bool
}

// New creates the metrics on a private registry.
func New(enabled bool) *Metrics {
	m := &Metrics{
		enabled:  enabled,
		registry: prometheus.NewRegistry(),
	}
	if !enabled {
		return m
	}

	m.FetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Source fetch attempts by protocol and result",
		},
		[]string{"protocol", "result"},
	)

	m.UnitOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_outcomes_total",
			Help:      "Work unit outcomes by group and state",
		},
		[]string{"group", "state"}, // done, no_data, failed, skipped
	)

	m.RowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Rows loaded into the warehouse by table",
		},
		[]string{"table"},
	)

	m.LoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Time from staging to confirmed row count",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"table"},
	)

	m.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full sync run",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	m.LastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		},
	)

	m.registry.MustRegister(
		m.FetchAttempts,
		m.UnitOutcomes,
		m.RowsLoaded,
		m.LoadDuration,
		m.RunDuration,
		m.LastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IsEnabled reports whether metrics are recorded.
func (m *Metrics) IsEnabled() bool {
	return m != nil && m.enabled
}

// RecordFetchAttempt counts one fetch attempt. Its signature matches
// fetcher.Observer.
func (m *Metrics) RecordFetchAttempt(protocol model.Protocol, result string) {
	if m.IsEnabled() {
		if protocol == "" {
			protocol = model.ProtocolValues
		}
		m.FetchAttempts.WithLabelValues(string(protocol), result).Inc()
	}
}

// RecordOutcome counts a unit outcome and, for loaded units, its rows.
func (m *Metrics) RecordOutcome(o model.Outcome) {
	if !m.IsEnabled() {
		return
	}
	m.UnitOutcomes.WithLabelValues(o.Group, string(o.State)).Inc()
	if o.State == model.UnitDone && o.Table != "" {
		m.RowsLoaded.WithLabelValues(o.Table).Add(float64(o.Rows))
	}
}

// RecordLoadDuration observes one load.
func (m *Metrics) RecordLoadDuration(table string, d time.Duration) {
	if m.IsEnabled() {
		m.LoadDuration.WithLabelValues(table).Observe(d.Seconds())
	}
}

// RecordRun observes a finished run.
func (m *Metrics) RecordRun(d time.Duration) {
	if m.IsEnabled() {
		m.RunDuration.Observe(d.Seconds())
		m.LastRun.SetToCurrentTime()
	}
}
