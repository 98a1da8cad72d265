// Package payment содержит абстракцию платёжных провайдеров PIX и выбор провайдера арендатора.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/orderflow/internal/model"
)

var (
	// ErrInvalidSignature возвращается, если подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedPayload возвращается, если тело вебхука невозможно разобрать.
	ErrMalformedPayload = errors.New("payments: malformed webhook payload")
	// ErrUnsupportedProvider возвращается, если провайдер не зарегистрирован.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
)

// ChargeRequest описывает запрос на создание PIX-платежа у провайдера.
type ChargeRequest struct {
	PaymentID      uuid.UUID
	OrderID        uuid.UUID
	Amount         int64
	Currency       string
	Description    string
	PayerEmail     string
	ExpiresAt      time.Time
	IdempotencyKey string
}

// Charge содержит ответ провайдера на создание PIX-платежа.
type Charge struct {
	ProviderPaymentID string
	QRCode            string
	QRCodeBase64      string
	ExpiresAt         time.Time
	Raw               json.RawMessage
}

// WebhookRequest содержит входящий вебхук целиком: провайдеры подписывают не только тело,
// но и заголовки и параметры запроса.
type WebhookRequest struct {
	Payload []byte
	Header  http.Header
	Query   url.Values
}

// WebhookEvent содержит проверенное и нормализованное событие провайдера.
// Пустой Status означает событие, не влияющее на статус платежа.
type WebhookEvent struct {
	EventID           string
	EventType         string
	ProviderPaymentID string
	Status            model.PaymentStatus
	PaidAt            *time.Time
	Raw               json.RawMessage
}

// PaymentState содержит состояние платежа, полученное запросом к провайдеру.
type PaymentState struct {
	ProviderPaymentID string
	Status            model.PaymentStatus
	PaidAt            *time.Time
	Raw               json.RawMessage
}

// Provider определяет контракт адаптера платёжного провайдера.
type Provider interface {
	Name() model.PaymentProvider
	CreatePixCharge(ctx context.Context, cfg *model.GatewayConfig, req ChargeRequest) (Charge, error)
	ParseWebhook(ctx context.Context, cfg *model.GatewayConfig, req WebhookRequest) (WebhookEvent, error)
	LookupPayment(ctx context.Context, cfg *model.GatewayConfig, providerPaymentID string) (PaymentState, error)
}

// ParseProvider разбирает имя провайдера без учёта регистра.
func ParseProvider(name string) (model.PaymentProvider, bool) {
	switch p := model.PaymentProvider(strings.ToUpper(strings.TrimSpace(name))); p {
	case model.ProviderStripe, model.ProviderMercadoPago:
		return p, true
	}
	return "", false
}
