package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/catalogsync/internal/failure"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"

	RowKindNew       = "new"
	RowKindDuplicate = "duplicate"
)

// RunMetrics captures sync job health: throughput, remote failures and
// time spent waiting on upstream quotas.
type RunMetrics struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	items         *prometheus.CounterVec
	rows          *prometheus.CounterVec
	remoteErrors  *prometheus.CounterVec
	recreates     *prometheus.CounterVec
	rateLimitWait prometheus.Counter
}

// NewRunMetrics registers the run collectors on registry.
func NewRunMetrics(registry *prometheus.Registry, cfg Config) *RunMetrics {
	if registry == nil {
		return newRunMetrics(prometheus.DefaultRegisterer, cfg)
	}
	return newRunMetrics(registry, cfg)
}

func newRunMetrics(registerer prometheus.Registerer, cfg Config) *RunMetrics {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "catalogsync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogsync_job_runs_total",
		Help:        "Sync job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job_name"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "catalogsync_job_duration_seconds",
		Help:        "Sync job wall time, including rate limit waits.",
		Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		ConstLabels: constLabels,
	}, []string{"job_name"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogsync_items_total",
		Help:        "Items handled by sync jobs by outcome.",
		ConstLabels: constLabels,
	}, []string{"job_name", "outcome"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogsync_rows_total",
		Help:        "Time series rows classified by the delta engine.",
		ConstLabels: constLabels,
	}, []string{"series", "kind"})
	remoteErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogsync_remote_errors_total",
		Help:        "Remote call failures by operation and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"op", "reason"})
	recreates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalogsync_recreates_total",
		Help:        "Destructive datastore rebuilds by series.",
		ConstLabels: constLabels,
	}, []string{"series"})
	rateLimitWait := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "catalogsync_ratelimit_wait_seconds_total",
		Help:        "Seconds spent blocked on an exhausted upstream quota.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		items,
		rows,
		remoteErrors,
		recreates,
		rateLimitWait,
	)

	return &RunMetrics{
		jobRuns:       jobRuns,
		jobDuration:   jobDuration,
		items:         items,
		rows:          rows,
		remoteErrors:  remoteErrors,
		recreates:     recreates,
		rateLimitWait: rateLimitWait,
	}
}

// IncJobRun increments the run counter for a job.
func (m *RunMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *RunMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// AddItems records count items with the given outcome.
func (m *RunMetrics) AddItems(job, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.items.WithLabelValues(job, outcome).Add(float64(count))
}

func (m *RunMetrics) AddRows(series, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rows.WithLabelValues(series, kind).Add(float64(count))
}

// IncRemoteError classifies err and counts it against op.
func (m *RunMetrics) IncRemoteError(op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.remoteErrors.WithLabelValues(op, failure.Reason(err)).Inc()
}

func (m *RunMetrics) IncRecreate(series string) {
	if m == nil {
		return
	}
	m.recreates.WithLabelValues(series).Inc()
}

func (m *RunMetrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.rateLimitWait.Add(d.Seconds())
}
