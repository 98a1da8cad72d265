package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/orderflow/internal/model"
)

type stubChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (c *stubChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.exchange = exchange
	c.key = key
	c.msg = msg
	return c.err
}

func (c *stubChannel) Close() error { return nil }

func testEvent() Event {
	order := &model.Order{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Type:     model.OrderTypeDelivery,
		Status:   model.OrderStatusPending,
		Total:    9500,
	}
	return NewOrderEvent(OrderCreated, order, time.Now())
}

func TestAMQPSink_PublishesWithConfirm(t *testing.T) {
	ch := &stubChannel{}
	acks := make(chan amqp.Confirmation, 1)
	acks <- amqp.Confirmation{DeliveryTag: 1, Ack: true}

	sink := newAMQPSink(ch, "orders_events", acks)
	e := testEvent()

	require.NoError(t, sink.Notify(context.Background(), e))

	assert.Equal(t, "orders_events", ch.exchange)
	assert.Equal(t, "orders."+e.TenantID.String()+".order_created", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.NotEmpty(t, ch.msg.MessageId)

	var decoded Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, e.OrderID, decoded.OrderID)
	assert.Equal(t, OrderCreated, decoded.Type)
}

func TestAMQPSink_Nack(t *testing.T) {
	acks := make(chan amqp.Confirmation, 1)
	acks <- amqp.Confirmation{DeliveryTag: 1, Ack: false}

	sink := newAMQPSink(&stubChannel{}, "orders_events", acks)
	assert.Error(t, sink.Notify(context.Background(), testEvent()))
}

func TestAMQPSink_PublishError(t *testing.T) {
	sink := newAMQPSink(&stubChannel{err: errors.New("channel closed")}, "orders_events", make(chan amqp.Confirmation))
	assert.Error(t, sink.Notify(context.Background(), testEvent()))
}

func TestAMQPSink_ContextTimeout(t *testing.T) {
	sink := newAMQPSink(&stubChannel{}, "orders_events", make(chan amqp.Confirmation))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sink.Notify(ctx, testEvent())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	e := testEvent()
	require.NoError(t, sink.Notify(context.Background(), e))

	entries := logs.FilterMessage("order event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, e.OrderID.String(), entries[0].ContextMap()["order_id"])
}
