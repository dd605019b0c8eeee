package events

import (
	"github.com/bissquit/leadflow/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsConsumed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "events",
		Name:      "consumed_total",
		Help:      "Total business events consumed by result",
	},
	[]string{"result"},
)
