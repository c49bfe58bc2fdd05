// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drift    prometheus.Gauge
	repaired prometheus.Counter
	lowStock prometheus.Gauge
	cleaned  prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetDrift records how many items the last verification found drifted.
func (m *Metrics) SetDrift(items int) {
	if m != nil {
		m.drift.Set(float64(items))
	}
}

// AddRepaired counts projection rows rewritten from the ledger.
func (m *Metrics) AddRepaired(n int) {
	if m != nil && n > 0 {
		m.repaired.Add(float64(n))
	}
}

// SetLowStock records the number of items at or below their threshold.
func (m *Metrics) SetLowStock(items int) {
	if m != nil {
		m.lowStock.Set(float64(items))
	}
}

// AddCleaned counts deleted idempotency keys.
func (m *Metrics) AddCleaned(n int64) {
	if m != nil && n > 0 {
		m.cleaned.Add(float64(n))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_jobs_total",
			Help: "Total job executions partitioned by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_jobs_failures_total",
			Help: "Total failures observed for background jobs.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_ledger_job_duration_seconds",
			Help:    "Duration in seconds of background job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_ledger_projection_drift_items",
			Help: "Items whose projection differed from the ledger replay at the last verification.",
		}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_ledger_projection_repairs_total",
			Help: "Projection rows rebuilt from the ledger.",
		}),
		lowStock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_ledger_low_stock_items",
			Help: "Items at or below their low-stock threshold.",
		}),
		cleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_ledger_idempotency_keys_cleaned_total",
			Help: "Expired idempotency keys deleted.",
		}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.drift, m.repaired, m.lowStock, m.cleaned)
	return m
}
