package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink публикует события в topic exchange RabbitMQ с подтверждениями публикации.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // publisher confirms требуют последовательной публикации
}

// DialAMQP подключается к брокеру, объявляет exchange и включает publisher confirms.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &AMQPSink{conn: conn, ch: ch, exchange: exchange, acks: acks}, nil
}

func newAMQPSink(ch amqpChannel, exchange string, acks <-chan amqp.Confirmation) *AMQPSink {
	return &AMQPSink{ch: ch, exchange: exchange, acks: acks}
}

// Notify публикует событие и ждёт ack от брокера или отмены контекста.
func (s *AMQPSink) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(e), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    ulid.Make().String(),
		Type:         string(e.Type),
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			"tenant_id": e.TenantID.String(),
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	select {
	case conf, ok := <-s.acks:
		if !ok {
			return errors.New("amqp channel closed")
		}
		if !conf.Ack {
			return errors.New("publish NACK from broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping проверяет, что соединение с брокером открыто.
func (s *AMQPSink) Ping() error {
	if s.conn == nil || s.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Close закрывает канал и соединение.
func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
