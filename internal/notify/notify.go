// Package notify доставляет события жизненного цикла заказа внешним подписчикам.
// Доставка best-effort: ошибки возвращаются вызывающему, который только логирует их.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/model"
)

// EventType описывает тип события заказа.
type EventType string

const (
	OrderCreated       EventType = "ORDER_CREATED"
	OrderAccepted      EventType = "ORDER_ACCEPTED"
	OrderRejected      EventType = "ORDER_REJECTED"
	OrderCancelled     EventType = "ORDER_CANCELLED"
	OrderStatusChanged EventType = "ORDER_STATUS_CHANGED"
	OrderReady         EventType = "ORDER_READY"
	OrderDelivered     EventType = "ORDER_DELIVERED"
)

// Event описывает событие, отправляемое подписчикам.
type Event struct {
	Type       EventType         `json:"type"`
	TenantID   uuid.UUID         `json:"tenant_id"`
	OrderID    uuid.UUID         `json:"order_id"`
	Status     model.OrderStatus `json:"status"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]any    `json:"data,omitempty"`
}

// Sink принимает события заказов.
type Sink interface {
	Notify(ctx context.Context, e Event) error
}

// NewOrderEvent строит событие по текущему состоянию заказа.
func NewOrderEvent(t EventType, o *model.Order, at time.Time) Event {
	return Event{
		Type:       t,
		TenantID:   o.TenantID,
		OrderID:    o.ID,
		Status:     o.Status,
		OccurredAt: at,
		Data: map[string]any{
			"total": o.Total,
			"type":  string(o.Type),
		},
	}
}

// RoutingKey возвращает ключ маршрутизации вида orders.<tenant>.<type>.
func RoutingKey(e Event) string {
	return "orders." + e.TenantID.String() + "." + strings.ToLower(string(e.Type))
}

// LogSink пишет события в лог. Используется, когда брокер не настроен.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink создаёт LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify логирует событие.
func (s *LogSink) Notify(_ context.Context, e Event) error {
	s.logger.Info("order event",
		zap.String("type", string(e.Type)),
		zap.String("tenant_id", e.TenantID.String()),
		zap.String("order_id", e.OrderID.String()),
		zap.String("status", string(e.Status)),
	)
	return nil
}
