// Package model содержит доменные сущности системы заказов.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderType описывает канал, через который был оформлен заказ.
type OrderType string

const (
	OrderTypeDelivery OrderType = "DELIVERY"
	OrderTypeCounter  OrderType = "COUNTER"
	OrderTypeTable    OrderType = "TABLE"
	OrderTypePickup   OrderType = "PICKUP"
	OrderTypeDineIn   OrderType = "DINE_IN"
)

// Valid сообщает, является ли тип заказа известным.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDelivery, OrderTypeCounter, OrderTypeTable, OrderTypePickup, OrderTypeDineIn:
		return true
	}
	return false
}

// NeedsTable сообщает, требуется ли для заказа ссылка на стол.
func (t OrderType) NeedsTable() bool {
	return t == OrderTypeTable || t == OrderTypeDineIn
}

// Order содержит заказ вместе с позициями, историей статусов и записью об отказе.
type Order struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	CustomerID            uuid.UUID
	Type                  OrderType
	Status                OrderStatus
	Subtotal              int64
	DeliveryFee           int64
	DiscountAmount        int64
	LoyaltyDiscountAmount int64
	LoyaltyPointsUsed     int64
	CouponCode            *string
	Total                 int64
	TableID               *uuid.UUID
	DeliveryAddress       *string
	Notes                 *string
	EstimatedDeliveryAt   *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
	Version               int64

	Lines     []OrderLine
	History   []StatusHistoryEntry
	Rejection *RejectionRecord
}

// OrderLine хранит позицию заказа со снимком названия и цены товара на момент оформления.
type OrderLine struct {
	ID          uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	CategoryID  *uuid.UUID
	UnitPrice   int64
	Quantity    int64
	Notes       *string
	Subtotal    int64
	Addons      []LineAddon
}

// LineAddon хранит снимок дополнения к позиции заказа.
type LineAddon struct {
	ID        uuid.UUID
	AddonID   uuid.UUID
	Name      string
	UnitPrice int64
	Quantity  int64
	Subtotal  int64
}

// StatusHistoryEntry описывает неизменяемую запись журнала смены статуса.
type StatusHistoryEntry struct {
	Status    OrderStatus
	ChangedAt time.Time
	ActorID   *uuid.UUID
	Notes     *string
}

// RejectionRecord описывает отказ ресторана от заказа. У заказа может быть не более одной такой записи.
type RejectionRecord struct {
	Reason     string
	Notes      *string
	RejectedBy *uuid.UUID
	RejectedAt time.Time
}

// Total возвращает сумму позиции вместе с дополнениями.
func (l OrderLine) Total() int64 {
	sum := l.Subtotal
	for _, a := range l.Addons {
		sum += a.Subtotal
	}
	return sum
}

// Recalculate пересчитывает промежуточный итог по позициям и итоговую сумму заказа.
func (o *Order) Recalculate() {
	var subtotal int64
	for _, l := range o.Lines {
		subtotal += l.Total()
	}
	o.Subtotal = subtotal
	o.Total = OrderTotal(o.Subtotal, o.DeliveryFee, o.DiscountAmount, o.LoyaltyDiscountAmount)
}

// OrderTotal вычисляет итог заказа; итог не может быть отрицательным.
func OrderTotal(subtotal, deliveryFee, discount, loyaltyDiscount int64) int64 {
	total := subtotal + deliveryFee - discount - loyaltyDiscount
	if total < 0 {
		return 0
	}
	return total
}
