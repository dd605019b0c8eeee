package delivery

import (
	"context"

	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// LogSender accepts every message and only logs it. It stands in for
// channels without a configured provider.
type LogSender struct {
	Channel string
}

// Send logs msg and returns a generated external id.
func (s LogSender) Send(ctx context.Context, msg Message) (Result, error) {
	id := uuid.NewString()
	ctxlog.FromContext(ctx).Info("message accepted by log sender",
		"channel", s.Channel,
		"external_id", id,
		"subject", msg.Subject,
		"body_length", len(msg.Body),
	)
	return Result{ExternalID: id}, nil
}
