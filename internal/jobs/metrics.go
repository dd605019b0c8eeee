package jobs

import (
	"time"

	"github.com/bissquit/leadflow/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)


const (
	outcomeCompleted = "completed"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
)

var (
	jobQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "jobs",
			Name:      "queue_size",
			Help:      "Number of jobs by status",
		},
		[]string{"status"},
	)

	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Total jobs enqueued",
		},
		[]string{"type"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total job attempts by outcome",
		},
		[]string{"type", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "jobs",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in job handlers",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type"},
	)
)

func recordEnqueued(jobType string) {
	jobsEnqueued.WithLabelValues(jobType).Inc()
}

func recordJobProcessed(jobType, outcome string) {
	jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

func recordJobDuration(jobType string, d time.Duration) {
	jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	jobQueueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	jobQueueSize.WithLabelValues("running").Set(float64(stats.Running))
	jobQueueSize.WithLabelValues("completed").Set(float64(stats.Completed))
	jobQueueSize.WithLabelValues("failed").Set(float64(stats.Failed))
	jobQueueSize.WithLabelValues("cancelled").Set(float64(stats.Cancelled))
}
