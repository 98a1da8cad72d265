package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/orderflow/internal/model"
)

// OrderInsert описывает атомарную единицу записи при оформлении заказа.
// Погашение купона и списание баллов выполняются в той же транзакции, что и вставка заказа.
type OrderInsert struct {
	Order   *model.Order
	Coupon  *model.CouponRedemption
	Loyalty *model.LoyaltyRedemption
}

// OrderTransition описывает условную смену статуса заказа.
// Запись применяется, только если текущий статус равен From.
type OrderTransition struct {
	TenantID            uuid.UUID
	OrderID             uuid.UUID
	From                model.OrderStatus
	Entry               model.StatusHistoryEntry
	EstimatedDeliveryAt *time.Time
	Rejection           *model.RejectionRecord
}

// LinesAppend описывает добавление позиций к заказу с оптимистичной проверкой версии.
type LinesAppend struct {
	TenantID        uuid.UUID
	OrderID         uuid.UUID
	ExpectedVersion int64
	Lines           []model.OrderLine
	Subtotal        int64
	Total           int64
	At              time.Time
}

// PaymentTransition описывает условную смену статуса платежа.
type PaymentTransition struct {
	TenantID  uuid.UUID
	PaymentID uuid.UUID
	From      model.PaymentStatus
	To        model.PaymentStatus
	PaidAt    *time.Time
	Raw       json.RawMessage
	At        time.Time
}

// Accrual описывает начисление баллов по заказу: записи журнала и одно увеличение баланса.
type Accrual struct {
	TenantID     uuid.UUID
	CustomerID   uuid.UUID
	Transactions []model.LoyaltyTransaction
	TotalPoints  int64
	At           time.Time
}
