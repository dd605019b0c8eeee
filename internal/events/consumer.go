// Package events consumes business events from AMQP and feeds them to the
// workflow trigger matcher.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/bissquit/leadflow/internal/workflows"
	"github.com/streadway/amqp"
)

// EventHandler starts workflows for a business event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event domain.BusinessEvent) ([]domain.Enrollment, error)
}

// Config contains consumer configuration.
type Config struct {
	URL            string
	Queue          string
	Prefetch       int
	ReconnectDelay time.Duration
}

// Message is the wire format of a business event.
type Message struct {
	Type     string         `json:"type"`
	EntityID string         `json:"entityId"`
	Data     map[string]any `json:"data"`
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeReject
	outcomeRequeue
)

// Consumer reads business events from a durable queue.
type Consumer struct {
	config  Config
	handler EventHandler
}

// NewConsumer creates a new consumer.
func NewConsumer(config Config, handler EventHandler) *Consumer {
	if config.Queue == "" {
		config.Queue = "leadflow.events"
	}
	if config.Prefetch <= 0 {
		config.Prefetch = 10
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	return &Consumer{config: config, handler: handler}
}

// Run consumes until ctx is cancelled, reconnecting after broker failures.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("event consumer started", "queue", c.config.Queue)
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			slog.Info("event consumer stopped")
			return nil
		}
		slog.Error("event consumer disconnected", "error", err, "retry_in", c.config.ReconnectDelay)

		select {
		case <-ctx.Done():
			slog.Info("event consumer stopped")
			return nil
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclare(
		c.config.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.settle(d, c.handle(ctx, d.Body))
		}
	}
}

func (c *Consumer) settle(d amqp.Delivery, result outcome) {
	var err error
	switch result {
	case outcomeAck, outcomeReject:
		err = d.Ack(false)
	case outcomeRequeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		slog.Error("failed to settle delivery", "delivery_tag", d.DeliveryTag, "error", err)
	}
}

// handle decodes one message and passes it to the handler. Malformed and
// invalid events are dropped; handler failures are requeued.
func (c *Consumer) handle(ctx context.Context, body []byte) outcome {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Warn("dropping malformed event", "error", err)
		eventsConsumed.WithLabelValues("malformed").Inc()
		return outcomeReject
	}

	event := domain.BusinessEvent{
		Type:     domain.TriggerType(msg.Type),
		EntityID: msg.EntityID,
		Data:     msg.Data,
	}
	ctx, logger := ctxlog.With(ctx, "event", msg.Type, "entity_id", msg.EntityID)

	enrollments, err := c.handler.HandleEvent(ctx, event)
	if errors.Is(err, workflows.ErrInvalidTrigger) || errors.Is(err, workflows.ErrEmptyEntityID) {
		logger.Warn("dropping invalid event", "error", err)
		eventsConsumed.WithLabelValues("invalid").Inc()
		return outcomeReject
	}
	if err != nil && permanent(err) {
		// Redelivery cannot fix these, so the enrollments that did succeed stand.
		logger.Warn("event skipped by some workflows", "enrollments", len(enrollments), "error", err)
		eventsConsumed.WithLabelValues("skipped").Inc()
		return outcomeAck
	}
	if err != nil {
		logger.Error("failed to handle event, requeueing", "error", err)
		eventsConsumed.WithLabelValues("requeued").Inc()
		return outcomeRequeue
	}

	logger.Debug("event handled", "enrollments", len(enrollments))
	eventsConsumed.WithLabelValues("handled").Inc()
	return outcomeAck
}

// permanent reports whether every failure in err is a workflow that cannot
// accept the event as it stands. A single transient failure makes the whole
// event worth redelivering.
func permanent(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !permanent(e) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, workflows.ErrInvalidSteps) ||
		errors.Is(err, workflows.ErrWorkflowNotActive) ||
		errors.Is(err, workflows.ErrWorkflowNotFound)
}
