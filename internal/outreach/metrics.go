package outreach

import (
	"github.com/bissquit/leadflow/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesPlanned = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "outreach",
		Name:      "messages_planned_total",
		Help:      "Total scheduled messages produced by campaign materialization",
	},
)
