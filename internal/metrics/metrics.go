// Package metrics exposes collection and alerting counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"headless-sentinel/internal/collect"
	"headless-sentinel/internal/types"
)

// Metrics holds all the Prometheus metrics for the sentinel
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal     prometheus.Counter
	CycleDuration   prometheus.Histogram
	HostCycles      *prometheus.CounterVec
	EventsIngested  *prometheus.CounterVec
	EventsDuplicate prometheus.Counter
	ParseErrors     prometheus.Counter
	Firings         *prometheus.CounterVec
	ActionResults   *prometheus.CounterVec
	TrackedKeys     prometheus.Gauge
}

// NewMetrics registers every collector on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		CyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_cycles_total",
			Help: "Total number of collection cycles run",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_cycle_duration_seconds",
			Help:    "Wall time of collection cycles",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		HostCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_host_cycles_total",
			Help: "Per-host cycle outcomes",
		}, []string{"host", "status"}),
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Events newly written to the store",
		}, []string{"host"}),
		EventsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_duplicate_total",
			Help: "Fetched events that were already stored",
		}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_parse_errors_total",
			Help: "Records that could not be decoded",
		}),
		Firings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_alert_firings_total",
			Help: "Rule firings",
		}, []string{"rule"}),
		ActionResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_action_results_total",
			Help: "Action dispatch outcomes",
		}, []string{"action", "success"}),
		TrackedKeys: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_alert_tracked_keys",
			Help: "Live (rule, group key) window states",
		}),
	}
}

// RecordCycle folds a finished cycle report into the counters.
func (m *Metrics) RecordCycle(r *collect.CycleReport) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(r.Duration().Seconds())
	for _, h := range r.Hosts {
		m.HostCycles.WithLabelValues(h.Host, string(h.Status)).Inc()
		if h.Ingested > 0 {
			m.EventsIngested.WithLabelValues(h.Host).Add(float64(h.Ingested))
		}
	}
	m.EventsDuplicate.Add(float64(r.Duplicates))
	m.ParseErrors.Add(float64(r.ParseErrors))
}

func (m *Metrics) RecordFiring(f *types.Firing) {
	m.Firings.WithLabelValues(f.Rule).Inc()
}

func (m *Metrics) RecordResult(r types.ActionResult) {
	m.ActionResults.WithLabelValues(string(r.Action), strconv.FormatBool(r.Success)).Inc()
}

func (m *Metrics) SetTrackedKeys(n int) {
	m.TrackedKeys.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
