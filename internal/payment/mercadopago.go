package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/orderflow/internal/model"
)

const (
	mercadoPagoTimeLayout      = "2006-01-02T15:04:05.000-07:00"
	mercadoPagoSignatureHeader = "X-Signature"
	mercadoPagoRequestIDHeader = "X-Request-Id"
)

// MercadoPagoProvider реализует Provider через REST API Mercado Pago.
type MercadoPagoProvider struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewMercadoPagoProvider создаёт HTTP-клиент Mercado Pago с ограничением времени запроса.
func NewMercadoPagoProvider(baseURL string, timeout time.Duration) *MercadoPagoProvider {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	return &MercadoPagoProvider{
		baseURL:    base,
		httpClient: newRetryClient(timeout),
	}
}

// newRetryClient создаёт HTTP-клиент провайдера с повторами временных ошибок.
func newRetryClient(timeout time.Duration) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	return rc
}

// Name возвращает имя провайдера.
func (p *MercadoPagoProvider) Name() model.PaymentProvider { return model.ProviderMercadoPago }

type mpPayer struct {
	Email string `json:"email,omitempty"`
}

type mpCreatePaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description,omitempty"`
	PaymentMethodID   string  `json:"payment_method_id"`
	Payer             mpPayer `json:"payer"`
	DateOfExpiration  string  `json:"date_of_expiration,omitempty"`
	ExternalReference string  `json:"external_reference"`
}

type mpTransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
}

type mpPointOfInteraction struct {
	TransactionData mpTransactionData `json:"transaction_data"`
}

type mpPayment struct {
	ID                 json.Number          `json:"id"`
	Status             string               `json:"status"`
	DateApproved       string               `json:"date_approved"`
	DateOfExpiration   string               `json:"date_of_expiration"`
	PointOfInteraction mpPointOfInteraction `json:"point_of_interaction"`
}

type mpNotificationData struct {
	ID string `json:"id"`
}

type mpNotification struct {
	ID     json.Number        `json:"id"`
	Type   string             `json:"type"`
	Action string             `json:"action"`
	Data   mpNotificationData `json:"data"`
}

// CreatePixCharge создаёт платёж с методом pix и возвращает QR-код.
func (p *MercadoPagoProvider) CreatePixCharge(ctx context.Context, cfg *model.GatewayConfig, req ChargeRequest) (Charge, error) {
	body := mpCreatePaymentRequest{
		TransactionAmount: decimal.New(req.Amount, -2).InexactFloat64(),
		Description:       req.Description,
		PaymentMethodID:   "pix",
		Payer:             mpPayer{Email: req.PayerEmail},
		ExternalReference: req.PaymentID.String(),
	}
	if !req.ExpiresAt.IsZero() {
		body.DateOfExpiration = req.ExpiresAt.Format(mercadoPagoTimeLayout)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return Charge{}, fmt.Errorf("mercadopago: encode request: %w", err)
	}

	headers := http.Header{}
	if req.IdempotencyKey != "" {
		headers.Set("X-Idempotency-Key", req.IdempotencyKey)
	}

	raw, err := p.do(ctx, cfg, http.MethodPost, "/v1/payments", encoded, headers)
	if err != nil {
		return Charge{}, err
	}

	var res mpPayment
	if err := json.Unmarshal(raw, &res); err != nil {
		return Charge{}, fmt.Errorf("mercadopago: decode response: %w", err)
	}
	if res.ID.String() == "" {
		return Charge{}, errors.New("mercadopago: response without payment id")
	}

	charge := Charge{
		ProviderPaymentID: res.ID.String(),
		QRCode:            res.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64:      res.PointOfInteraction.TransactionData.QRCodeBase64,
		ExpiresAt:         req.ExpiresAt,
		Raw:               raw,
	}
	if t, ok := parseMercadoPagoTime(res.DateOfExpiration); ok {
		charge.ExpiresAt = t
	}
	return charge, nil
}

// ParseWebhook проверяет подпись уведомления и запрашивает актуальный статус платежа.
// Идентификатор платежа берётся из параметра data.id, а при его отсутствии из тела.
func (p *MercadoPagoProvider) ParseWebhook(ctx context.Context, cfg *model.GatewayConfig, req WebhookRequest) (WebhookEvent, error) {
	payload := req.Payload
	var n mpNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	dataID := req.Query.Get("data.id")
	switch {
	case dataID == "":
		dataID = n.Data.ID
	case n.Data.ID != "" && n.Data.ID != dataID:
		return WebhookEvent{}, fmt.Errorf("%w: data.id mismatch", ErrMalformedPayload)
	}
	if dataID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing data.id", ErrMalformedPayload)
	}

	err := verifyMercadoPagoSignature(cfg, dataID, req.Header.Get(mercadoPagoRequestIDHeader), req.Header.Get(mercadoPagoSignatureHeader))
	if err != nil {
		return WebhookEvent{}, err
	}

	res := WebhookEvent{
		EventID:           n.ID.String(),
		EventType:         n.Action,
		ProviderPaymentID: dataID,
		Raw:               json.RawMessage(payload),
	}
	if res.EventType == "" {
		res.EventType = n.Type
	}
	if n.Type != "" && n.Type != "payment" {
		return res, nil
	}

	state, err := p.LookupPayment(ctx, cfg, dataID)
	if err != nil {
		return WebhookEvent{}, err
	}
	res.Status = state.Status
	res.PaidAt = state.PaidAt
	return res, nil
}

// LookupPayment запрашивает платёж по идентификатору провайдера.
func (p *MercadoPagoProvider) LookupPayment(ctx context.Context, cfg *model.GatewayConfig, providerPaymentID string) (PaymentState, error) {
	raw, err := p.do(ctx, cfg, http.MethodGet, "/v1/payments/"+providerPaymentID, nil, nil)
	if err != nil {
		return PaymentState{}, err
	}

	var res mpPayment
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentState{}, fmt.Errorf("mercadopago: decode response: %w", err)
	}

	state := PaymentState{
		ProviderPaymentID: res.ID.String(),
		Status:            mercadoPagoStatus(res.Status),
		Raw:               raw,
	}
	if state.Status == model.PaymentStatusPaid {
		if t, ok := parseMercadoPagoTime(res.DateApproved); ok {
			state.PaidAt = &t
		}
	}
	return state, nil
}

func (p *MercadoPagoProvider) do(ctx context.Context, cfg *model.GatewayConfig, method, path string, body []byte, headers http.Header) ([]byte, error) {
	if p == nil || p.baseURL == "" {
		return nil, errors.New("mercadopago: client not configured")
	}
	if cfg == nil || cfg.AccessToken == "" {
		return nil, errors.New("mercadopago: access token is not configured")
	}

	var reqBody any
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: create request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("mercadopago: unexpected status: %d", resp.StatusCode)
	}
	return raw, nil
}

// verifyMercadoPagoSignature проверяет заголовок вида "ts=<unix>,v1=<hex>",
// подписанный HMAC-SHA256 по шаблону "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func verifyMercadoPagoSignature(cfg *model.GatewayConfig, dataID, requestID, header string) error {
	if cfg == nil || cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: webhook secret is not configured", ErrInvalidSignature)
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}

	expected, err := hex.DecodeString(v1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	mac := hmac.New(sha256.New, []byte(cfg.WebhookSecret))
	mac.Write([]byte(mercadoPagoManifest(dataID, requestID, ts)))
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrInvalidSignature
	}
	return nil
}

// mercadoPagoManifest собирает подписываемую строку. Отсутствующие в запросе части пропускаются.
func mercadoPagoManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

func mercadoPagoStatus(s string) model.PaymentStatus {
	switch s {
	case "approved":
		return model.PaymentStatusPaid
	case "rejected":
		return model.PaymentStatusFailed
	case "cancelled":
		return model.PaymentStatusExpired
	case "refunded", "charged_back":
		return model.PaymentStatusRefunded
	}
	return model.PaymentStatusPending
}

func parseMercadoPagoTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{mercadoPagoTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
