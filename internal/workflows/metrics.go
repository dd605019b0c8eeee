package workflows

import (
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)


const (
	stepOK      = "ok"
	stepFailed  = "failed"
	stepSkipped = "skipped"
)

var (
	stepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflows",
			Name:      "steps_executed_total",
			Help:      "Total workflow steps executed by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	enrollmentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflows",
			Name:      "enrollments_total",
			Help:      "Total enrollment lifecycle events",
		},
		[]string{"event"},
	)

	enrollmentsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workflows",
			Name:      "enrollments_claimed_total",
			Help:      "Total due enrollments claimed for processing",
		},
	)
)

func recordStep(stepType domain.StepType, outcome string) {
	stepsExecuted.WithLabelValues(string(stepType), outcome).Inc()
}

func recordEnrollment(event string) {
	enrollmentEvents.WithLabelValues(event).Inc()
}
