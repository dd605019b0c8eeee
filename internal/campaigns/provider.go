package campaigns

import (
	"strings"

	"github.com/bissquit/leadflow/internal/domain"
)

// providerEvents maps provider event types to message statuses. Event types
// are matched case-insensitively.
var providerEvents = map[string]map[string]domain.MessageStatus{
	"sendgrid": {
		"delivered": domain.MessageStatusDelivered,
		"open":      domain.MessageStatusOpened,
		"click":     domain.MessageStatusClicked,
		"bounce":    domain.MessageStatusBounced,
		"dropped":   domain.MessageStatusBounced,
	},
	"mailgun": {
		"delivered":      domain.MessageStatusDelivered,
		"opened":         domain.MessageStatusOpened,
		"clicked":        domain.MessageStatusClicked,
		"failed":         domain.MessageStatusBounced,
		"permanent_fail": domain.MessageStatusBounced,
		"replied":        domain.MessageStatusReplied,
	},
	"postmark": {
		"delivery": domain.MessageStatusDelivered,
		"open":     domain.MessageStatusOpened,
		"click":    domain.MessageStatusClicked,
		"bounce":   domain.MessageStatusBounced,
		"inbound":  domain.MessageStatusReplied,
	},
	"linkedin": {
		"message_delivered": domain.MessageStatusDelivered,
		"message_seen":      domain.MessageStatusOpened,
		"message_replied":   domain.MessageStatusReplied,
		"connection_failed": domain.MessageStatusBounced,
	},
}

// KnownProvider reports whether callbacks from provider are understood.
func KnownProvider(provider string) bool {
	_, ok := providerEvents[strings.ToLower(provider)]
	return ok
}

// MapProviderEvent returns the message status a provider event implies.
// The second result is false for unknown providers and unmapped events.
func MapProviderEvent(provider, eventType string) (domain.MessageStatus, bool) {
	events, ok := providerEvents[strings.ToLower(provider)]
	if !ok {
		return "", false
	}
	status, ok := events[strings.ToLower(eventType)]
	return status, ok
}
