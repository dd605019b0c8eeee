//go:build integration

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/events"
	"github.com/bissquit/leadflow/internal/testutil"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "leadflow.events.test"

type recordingHandler struct {
	received chan domain.BusinessEvent
}

func (h *recordingHandler) HandleEvent(_ context.Context, event domain.BusinessEvent) ([]domain.Enrollment, error) {
	h.received <- event
	return nil, nil
}

func TestConsumer_RabbitMQ(t *testing.T) {
	ctx := context.Background()

	broker, err := testutil.NewRabbitMQContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Terminate(context.Background()) })

	conn, err := amqp.Dial(broker.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)
	_, err = ch.QueueDeclare(testQueue, true, false, false, false, nil)
	require.NoError(t, err)

	publish := func(body string) {
		t.Helper()
		require.NoError(t, ch.Publish("", testQueue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(body),
		}))
	}

	handler := &recordingHandler{received: make(chan domain.BusinessEvent, 4)}
	consumer := events.NewConsumer(events.Config{
		URL:            broker.URL,
		Queue:          testQueue,
		ReconnectDelay: 100 * time.Millisecond,
	}, handler)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()

	publish(`not json`)
	publish(`{"type":"lead_created","entityId":"lead-1","data":{"segment":"enterprise"}}`)

	select {
	case event := <-handler.received:
		assert.Equal(t, domain.TriggerLeadCreated, event.Type)
		assert.Equal(t, "lead-1", event.EntityID)
		assert.Equal(t, "enterprise", event.Data["segment"])
	case <-time.After(30 * time.Second):
		t.Fatal("event was not consumed")
	}

	// the malformed message was acknowledged, not redelivered
	require.Eventually(t, func() bool {
		q, err := ch.QueueInspect(testQueue)
		return err == nil && q.Messages == 0
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
