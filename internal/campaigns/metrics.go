package campaigns

import (
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outreach",
			Name:      "messages_dispatched_total",
			Help:      "Total scheduled messages dispatched by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	providerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outreach",
			Name:      "provider_events_total",
			Help:      "Total provider callbacks by provider and result",
		},
		[]string{"provider", "result"},
	)

	campaignsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outreach",
			Name:      "campaigns_completed_total",
			Help:      "Total campaigns completed automatically",
		},
	)
)

func recordDispatch(channel domain.Channel, outcome string) {
	messagesDispatched.WithLabelValues(string(channel), outcome).Inc()
}

func recordProviderEvent(provider, result string) {
	providerEventsTotal.WithLabelValues(provider, result).Inc()
}
