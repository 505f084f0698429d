package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, jobDurationSeconds, jobsByStatus) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnpipe_jobs_processed_total",
			Help: "Jobs run by the scheduler, labeled by type and outcome.",
		},
		[]string{"type", "status"}, // 'completed', 'retried', 'failed'
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnpipe_job_duration_seconds",
			Help:    "Handler wall time per job type.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type"},
	)

	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turnpipe_jobs",
			Help: "Jobs currently in the store, by status.",
		},
		[]string{"status"},
	)
)

func ObserveJob(jobType, status string, took time.Duration) {
	jobsProcessedTotal.WithLabelValues(norm(jobType), norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(jobType)).Observe(took.Seconds())
}

func SetJobsByStatus(status string, n int) {
	jobsByStatus.WithLabelValues(norm(status)).Set(float64(n))
}
