// Package jobmetrics instruments the asynq handlers of the worker.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded in the status label of konzern_jobs_total.
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusDiscarded = "discarded"
)

// Metrics holds the job collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	entries     *prometheus.CounterVec
	missingInfo *prometheus.CounterVec
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return register(prometheus.DefaultRegisterer)
})

// NewMetrics registers the job collectors with registerer. A nil registerer
// shares one set registered with the default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return register(registerer)
}

// Tracker times one handler invocation.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job. Safe on a nil Metrics.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the invocation and returns err unchanged so
// handlers can end with `return tracker.End(err)`. Errors wrapping
// asynq.SkipRetry count as discarded.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	status := StatusSuccess
	switch {
	case err == nil:
		m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	case errors.Is(err, asynq.SkipRetry):
		status = StatusDiscarded
		m.failures.WithLabelValues(t.job).Inc()
	default:
		status = StatusFailure
		m.failures.WithLabelValues(t.job).Inc()
	}
	m.runs.WithLabelValues(t.job, status).Inc()
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddEntries counts consolidation entries produced per adjustment type.
func (m *Metrics) AddEntries(adjustmentType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if adjustmentType == "" {
		adjustmentType = "unknown"
	}
	m.entries.WithLabelValues(adjustmentType).Add(float64(count))
}

// AddMissingInfo counts diagnostics about incomplete source data.
func (m *Metrics) AddMissingInfo(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.missingInfo.WithLabelValues(job).Add(float64(count))
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "konzern_jobs_total",
			Help: "Job executions by job name and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "konzern_jobs_failures_total",
			Help: "Failed job executions, retried or discarded.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "konzern_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "konzern_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful execution per job.",
		}, []string{"job"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "konzern_consolidation_entries_total",
			Help: "Consolidation entries written by runs, by adjustment type.",
		}, []string{"adjustment_type"}),
		missingInfo: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "konzern_consolidation_missing_info_total",
			Help: "Diagnostics about incomplete source data reported by jobs.",
		}, []string{"job"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.entries, m.missingInfo)
	return m
}
