package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics is safe to use when nil or built without a registerer.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	swept    *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_job_runs_total",
			Help: "Sweeper job runs by job and outcome (success, failure).",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sweeper_job_duration_seconds",
			Help:    "Wall time of one sweeper job run.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_items_total",
			Help: "Rows touched by sweeper jobs, by job and result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(m.runs, m.duration, m.swept)
	return m
}

// ObserveRun records one finished run; a nil err counts as success.
func (m *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
}

// AddSwept counts n rows handled by job with the given result. Zero counts
// create no series.
func (m *CronJobMetrics) AddSwept(job, result string, n int) {
	if m == nil || m.swept == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(normalizeLabel(job), normalizeLabel(result)).Add(float64(n))
}
