package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusExpired  PaymentStatus = "EXPIRED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// CanTransition проверяет, разрешён ли переход между статусами платежа.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return to == PaymentStatusPaid || to == PaymentStatusExpired || to == PaymentStatusFailed
	case PaymentStatusPaid:
		return to == PaymentStatusRefunded
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusExpired || s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentMethodPix  PaymentMethod = "PIX"
	PaymentMethodCash PaymentMethod = "CASH"
	PaymentMethodCard PaymentMethod = "CARD"
)

// IsOnline сообщает, подтверждается ли оплата внешним провайдером.
func (m PaymentMethod) IsOnline() bool {
	return m == PaymentMethodPix || m == PaymentMethodCard
}

// PaymentProvider перечисляет интегрированные платёжные шлюзы.
type PaymentProvider string

const (
	ProviderStripe      PaymentProvider = "STRIPE"
	ProviderMercadoPago PaymentProvider = "MERCADOPAGO"
)

// Payment описывает попытку оплаты заказа.
type Payment struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	TenantID          uuid.UUID
	Amount            int64
	Currency          string
	Method            PaymentMethod
	Provider          PaymentProvider
	ProviderPaymentID *string
	Status            PaymentStatus
	QRCode            *string
	QRCodeBase64      *string
	QRCodeExpiresAt   *time.Time
	PaidAt            *time.Time
	RawResponse       json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentTransactionEvent описывает запись журнала входящих событий провайдера. Журнал только пополняется.
type PaymentTransactionEvent struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Provider          PaymentProvider
	ProviderPaymentID string
	ProviderEventID   string
	EventType         string
	RawPayload        json.RawMessage
	ReceivedAt        time.Time
}

// GatewayConfig содержит настройки подключения арендатора к платёжному провайдеру.
type GatewayConfig struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Provider      PaymentProvider
	Method        PaymentMethod
	AccessToken   string
	WebhookSecret string
	Sandbox       bool
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
