package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/mmeshcher/orderflow/internal/model"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// stripeClientFactory создаёт клиент PaymentIntents для секретного ключа арендатора.
type stripeClientFactory func(apiKey string) stripePaymentIntentAPI

// StripeProvider реализует Provider поверх Stripe PaymentIntents с методом pix.
type StripeProvider struct {
	clients stripeClientFactory
	images  *retryablehttp.Client
	now     func() time.Time
}

// maxQRImageSize ограничивает размер загружаемого изображения QR-кода.
const maxQRImageSize = 1 << 20

// NewStripeProvider создаёт провайдера Stripe. Непустой apiURL переопределяет адрес API,
// timeout ограничивает загрузку изображения QR-кода.
func NewStripeProvider(apiURL string, timeout time.Duration) *StripeProvider {
	var backends *stripe.Backends
	if apiURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL: stripe.String(apiURL),
			}),
		}
	}
	return newStripeProviderWithFactory(func(apiKey string) stripePaymentIntentAPI {
		return client.New(apiKey, backends).PaymentIntents
	}, timeout)
}

func newStripeProviderWithFactory(factory stripeClientFactory, timeout time.Duration) *StripeProvider {
	return &StripeProvider{clients: factory, images: newRetryClient(timeout), now: time.Now}
}

// Name возвращает имя провайдера.
func (p *StripeProvider) Name() model.PaymentProvider { return model.ProviderStripe }

// stripeSignatureHeader содержит подпись вебхука Stripe.
const stripeSignatureHeader = "Stripe-Signature"

// CreatePixCharge создаёт и подтверждает PaymentIntent, возвращая данные QR-кода.
func (p *StripeProvider) CreatePixCharge(ctx context.Context, cfg *model.GatewayConfig, req ChargeRequest) (Charge, error) {
	if cfg == nil || strings.TrimSpace(cfg.AccessToken) == "" {
		return Charge{}, errors.New("stripe: api key is not configured")
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("pix"),
		},
		Confirm: stripe.Bool(true),
	}
	if !req.ExpiresAt.IsZero() {
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Pix: &stripe.PaymentIntentPaymentMethodOptionsPixParams{
				ExpiresAt: stripe.Int64(req.ExpiresAt.Unix()),
			},
		}
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.PayerEmail != "" {
		params.ReceiptEmail = stripe.String(req.PayerEmail)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("order_id", req.OrderID.String())

	intent, err := p.clients(cfg.AccessToken).New(params)
	if err != nil {
		return Charge{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	if intent.NextAction == nil || intent.NextAction.PixDisplayQRCode == nil {
		return Charge{}, fmt.Errorf("stripe: payment intent %s has no pix qr code", intent.ID)
	}
	qr := intent.NextAction.PixDisplayQRCode

	raw, err := json.Marshal(intent)
	if err != nil {
		return Charge{}, fmt.Errorf("stripe: encode payment intent: %w", err)
	}

	charge := Charge{
		ProviderPaymentID: intent.ID,
		QRCode:            qr.Data,
		ExpiresAt:         req.ExpiresAt,
		Raw:               raw,
	}
	if qr.ExpiresAt > 0 {
		charge.ExpiresAt = time.Unix(qr.ExpiresAt, 0).UTC()
	}
	// PaymentIntent уже подтверждён, поэтому без картинки платёж остаётся рабочим:
	// клиент может оплатить по строке QRCode.
	if qr.ImageURLPNG != "" {
		if img, err := p.qrImage(ctx, qr.ImageURLPNG); err == nil {
			charge.QRCodeBase64 = img
		}
	}
	return charge, nil
}

// qrImage загружает PNG с QR-кодом и кодирует его в base64.
func (p *StripeProvider) qrImage(ctx context.Context, imageURL string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("stripe: create qr image request: %w", err)
	}
	resp, err := p.images.Do(req)
	if err != nil {
		return "", fmt.Errorf("stripe: fetch qr image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stripe: fetch qr image: status %d", resp.StatusCode)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxQRImageSize+1))
	if err != nil {
		return "", fmt.Errorf("stripe: read qr image: %w", err)
	}
	if len(img) == 0 || len(img) > maxQRImageSize {
		return "", fmt.Errorf("stripe: qr image size %d out of range", len(img))
	}
	return base64.StdEncoding.EncodeToString(img), nil
}

// ParseWebhook проверяет подпись Stripe и нормализует событие.
func (p *StripeProvider) ParseWebhook(_ context.Context, cfg *model.GatewayConfig, req WebhookRequest) (WebhookEvent, error) {
	payload := req.Payload
	if cfg == nil || cfg.WebhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook secret is not configured", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, req.Header.Get(stripeSignatureHeader), cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Livemode == cfg.Sandbox {
		return WebhookEvent{}, fmt.Errorf("%w: livemode mismatch", ErrInvalidSignature)
	}
	if event.Data == nil {
		return WebhookEvent{}, ErrMalformedPayload
	}

	res := WebhookEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Raw:       json.RawMessage(payload),
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		res.ProviderPaymentID = intent.ID
		switch event.Type {
		case "payment_intent.succeeded":
			res.Status = model.PaymentStatusPaid
			paidAt := time.Unix(event.Created, 0).UTC()
			res.PaidAt = &paidAt
		case "payment_intent.payment_failed":
			res.Status = model.PaymentStatusFailed
		default:
			res.Status = model.PaymentStatusExpired
		}
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if charge.PaymentIntent != nil {
			res.ProviderPaymentID = charge.PaymentIntent.ID
		}
		if charge.Refunded {
			res.Status = model.PaymentStatusRefunded
		}
	}

	if res.ProviderPaymentID == "" {
		var obj struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(event.Data.Raw, &obj)
		res.ProviderPaymentID = obj.ID
	}

	return res, nil
}

// LookupPayment запрашивает текущее состояние PaymentIntent.
func (p *StripeProvider) LookupPayment(ctx context.Context, cfg *model.GatewayConfig, providerPaymentID string) (PaymentState, error) {
	if cfg == nil || strings.TrimSpace(cfg.AccessToken) == "" {
		return PaymentState{}, errors.New("stripe: api key is not configured")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.clients(cfg.AccessToken).Get(providerPaymentID, params)
	if err != nil {
		return PaymentState{}, fmt.Errorf("stripe: get payment intent: %w", err)
	}

	raw, _ := json.Marshal(intent)
	state := PaymentState{
		ProviderPaymentID: intent.ID,
		Status:            stripeIntentStatus(intent.Status),
		Raw:               raw,
	}
	if state.Status == model.PaymentStatusPaid {
		paidAt := p.now().UTC()
		state.PaidAt = &paidAt
	}
	return state, nil
}

func stripeIntentStatus(s stripe.PaymentIntentStatus) model.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return model.PaymentStatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return model.PaymentStatusExpired
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return model.PaymentStatusFailed
	}
	return model.PaymentStatusPending
}
