package campaigns

import "github.com/bissquit/leadflow/internal/domain"

// Rollup aggregates per-status message counts into campaign metrics. A
// message counts toward every status it necessarily passed through, so a
// replied message is also delivered and sent. Bounced messages were sent
// but never delivered.
func Rollup(counts map[domain.MessageStatus]int) domain.CampaignMetrics {
	var m domain.CampaignMetrics
	for status, n := range counts {
		m.Total += n
		switch status {
		case domain.MessageStatusPending, domain.MessageStatusScheduled:
			m.Pending += n
		case domain.MessageStatusFailed:
			m.Failed += n
		case domain.MessageStatusBounced:
			m.Sent += n
			m.Bounced += n
		case domain.MessageStatusSent:
			m.Sent += n
		case domain.MessageStatusDelivered:
			m.Sent += n
			m.Delivered += n
		case domain.MessageStatusOpened:
			m.Sent += n
			m.Delivered += n
			m.Opened += n
		case domain.MessageStatusClicked:
			m.Sent += n
			m.Delivered += n
			m.Opened += n
			m.Clicked += n
		case domain.MessageStatusReplied:
			m.Sent += n
			m.Delivered += n
			m.Replied += n
		}
	}
	return m
}
