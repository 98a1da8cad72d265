package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/metrics"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/notify"
	"github.com/mmeshcher/orderflow/internal/payment"
	"github.com/mmeshcher/orderflow/internal/repository"
)

// PixCharge содержит данные PIX-платежа для клиента.
type PixCharge struct {
	PaymentID         uuid.UUID
	Provider          model.PaymentProvider
	ProviderPaymentID string
	QRCode            string
	QRCodeBase64      string
	Amount            int64
	ExpiresAt         time.Time
}

func pixChargeFromPayment(p *model.Payment) *PixCharge {
	c := &PixCharge{
		PaymentID: p.ID,
		Provider:  p.Provider,
		Amount:    p.Amount,
	}
	if p.ProviderPaymentID != nil {
		c.ProviderPaymentID = *p.ProviderPaymentID
	}
	if p.QRCode != nil {
		c.QRCode = *p.QRCode
	}
	if p.QRCodeBase64 != nil {
		c.QRCodeBase64 = *p.QRCodeBase64
	}
	if p.QRCodeExpiresAt != nil {
		c.ExpiresAt = *p.QRCodeExpiresAt
	}
	return c
}

// CreatePixCharge создаёт PIX-платёж по заказу у активного провайдера арендатора.
// Локальная запись создаётся до обращения к провайдеру. Повторный запрос на ту же сумму
// возвращает действующий платёж.
func (s *Service) CreatePixCharge(ctx context.Context, scope model.Scope, orderID uuid.UUID, amount int64) (*PixCharge, error) {
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	order, err := s.loadOrder(ctx, scope, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == model.OrderStatusCancelled || order.Status == model.OrderStatusRejected {
		return nil, apperr.InvalidState("cannot charge %s order", order.Status)
	}
	if amount > order.Total {
		return nil, apperr.Validation("amount %d exceeds order total %d", amount, order.Total)
	}

	provider, cfg, err := s.gateways.ResolvePixProvider(ctx, scope.TenantID)
	if err != nil {
		return nil, classify("resolve pix provider", err)
	}

	existing, err := s.existingPixCharge(ctx, order, amount)
	if err != nil || existing != nil {
		return existing, err
	}

	// Срок действия задаётся сразу: незавершённая попытка истекает так же, как QR-код.
	now := s.now().UTC()
	pendingUntil := now.Add(s.opts.PixExpiration)
	p := &model.Payment{
		ID:              uuid.New(),
		OrderID:         order.ID,
		TenantID:        order.TenantID,
		Amount:          amount,
		Currency:        s.opts.Currency,
		Method:          model.PaymentMethodPix,
		Provider:        provider.Name(),
		Status:          model.PaymentStatusPending,
		QRCodeExpiresAt: &pendingUntil,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, classify("create payment", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	charge, err := provider.CreatePixCharge(pctx, cfg, payment.ChargeRequest{
		PaymentID:      p.ID,
		OrderID:        order.ID,
		Amount:         amount,
		Currency:       s.opts.Currency,
		Description:    fmt.Sprintf("Order %s", order.ID),
		ExpiresAt:      pendingUntil,
		IdempotencyKey: ulid.Make().String(),
	})
	if err != nil {
		metrics.PixCharge(string(provider.Name()), "failed")
		s.markChargeFailed(ctx, p, err)
		return nil, apperr.ExternalProvider(string(provider.Name()), err)
	}

	providerID := charge.ProviderPaymentID
	expiresAt := charge.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = pendingUntil
	}
	p.ProviderPaymentID = &providerID
	p.QRCode = &charge.QRCode
	p.QRCodeBase64 = &charge.QRCodeBase64
	p.QRCodeExpiresAt = &expiresAt
	p.RawResponse = charge.Raw
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdatePaymentCharge(ctx, p); err != nil {
		metrics.PixCharge(string(provider.Name()), "failed")
		s.markChargeFailed(ctx, p, err)
		return nil, classify("save payment charge", err)
	}

	metrics.PixCharge(string(provider.Name()), "created")
	s.logger.Info("pix charge created",
		zap.String("payment_id", p.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("provider", string(provider.Name())),
		zap.String("provider_payment_id", providerID),
	)
	return pixChargeFromPayment(p), nil
}

// existingPixCharge обрабатывает незавершённый PIX-платёж заказа.
// Истёкший платёж переводится в EXPIRED, действующий на ту же сумму возвращается.
func (s *Service) existingPixCharge(ctx context.Context, order *model.Order, amount int64) (*PixCharge, error) {
	p, err := s.repo.GetPendingPayment(ctx, order.TenantID, order.ID, model.PaymentMethodPix)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get pending payment", err)
	}

	now := s.now().UTC()
	if p.QRCodeExpiresAt != nil && !now.Before(*p.QRCodeExpiresAt) {
		if _, _, err := s.applyPaymentStatus(ctx, p, model.PaymentStatusExpired, nil, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if p.Amount != amount {
		return nil, apperr.Conflict("order already has a pending pix payment of %d", p.Amount)
	}
	if p.ProviderPaymentID == nil {
		return nil, apperr.Conflict("pix payment for order %s is being created", order.ID)
	}
	return pixChargeFromPayment(p), nil
}

func (s *Service) markChargeFailed(ctx context.Context, p *model.Payment, cause error) {
	raw, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_, err := s.repo.TransitionPayment(context.WithoutCancel(ctx), repository.PaymentTransition{
		TenantID:  p.TenantID,
		PaymentID: p.ID,
		From:      model.PaymentStatusPending,
		To:        model.PaymentStatusFailed,
		Raw:       raw,
		At:        s.now().UTC(),
	})
	fields := []zap.Field{
		zap.String("payment_id", p.ID.String()),
		zap.String("order_id", p.OrderID.String()),
		zap.String("provider", string(p.Provider)),
		zap.NamedError("cause", cause),
	}
	if p.ProviderPaymentID != nil {
		fields = append(fields, zap.String("provider_payment_id", *p.ProviderPaymentID))
	}
	if err != nil {
		s.logger.Error("failed to mark payment as failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Warn("pix charge failed", fields...)
}

// applyPaymentStatus применяет допустимый переход статуса платежа.
// Совпадающий или недопустимый статус не меняет платёж.
func (s *Service) applyPaymentStatus(ctx context.Context, p *model.Payment, to model.PaymentStatus, paidAt *time.Time, raw json.RawMessage) (*model.Payment, bool, error) {
	if to == "" || to == p.Status {
		return p, false, nil
	}
	if !p.Status.CanTransition(to) {
		s.logger.Info("payment transition ignored",
			zap.String("payment_id", p.ID.String()),
			zap.String("from", string(p.Status)),
			zap.String("to", string(to)),
		)
		return p, false, nil
	}

	now := s.now().UTC()
	t := repository.PaymentTransition{
		TenantID:  p.TenantID,
		PaymentID: p.ID,
		From:      p.Status,
		To:        to,
		Raw:       raw,
		At:        now,
	}
	if to == model.PaymentStatusPaid {
		if paidAt == nil {
			paidAt = &now
		}
		t.PaidAt = paidAt
	}
	applied, err := s.repo.TransitionPayment(ctx, t)
	if err != nil {
		return nil, false, classify("transition payment", err)
	}

	updated, err := s.repo.GetPayment(ctx, p.TenantID, p.ID)
	if err != nil {
		return nil, false, classify("reload payment", err)
	}
	if applied {
		s.logger.Info("payment status changed",
			zap.String("payment_id", p.ID.String()),
			zap.String("from", string(p.Status)),
			zap.String("to", string(to)),
		)
	}
	return updated, applied, nil
}

// GatewayConfigInput содержит настройки платёжного шлюза арендатора.
type GatewayConfigInput struct {
	Provider      string
	Method        model.PaymentMethod
	AccessToken   string
	WebhookSecret string
	Sandbox       bool
	Active        bool
}

// UpsertGatewayConfig создаёт или обновляет настройки шлюза.
// Активация конфигурации выключает конфигурации других провайдеров для того же метода.
func (s *Service) UpsertGatewayConfig(ctx context.Context, scope model.Scope, in GatewayConfigInput) (*model.GatewayConfig, error) {
	provider, ok := payment.ParseProvider(in.Provider)
	if !ok {
		return nil, apperr.Validation("unknown payment provider %q", in.Provider)
	}
	if in.Method == "" {
		in.Method = model.PaymentMethodPix
	}
	if !in.Method.IsOnline() {
		return nil, apperr.Validation("payment method %q does not use a gateway", in.Method)
	}
	if strings.TrimSpace(in.AccessToken) == "" {
		return nil, apperr.Validation("access token is required")
	}

	now := s.now().UTC()
	cfg, err := s.repo.UpsertGatewayConfig(ctx, &model.GatewayConfig{
		ID:            uuid.New(),
		TenantID:      scope.TenantID,
		Provider:      provider,
		Method:        in.Method,
		AccessToken:   strings.TrimSpace(in.AccessToken),
		WebhookSecret: strings.TrimSpace(in.WebhookSecret),
		Sandbox:       in.Sandbox,
		Active:        in.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, classify("upsert gateway config", err)
	}
	return cfg, nil
}

// AdvanceResult содержит результат продвижения заказа после оплаты.
type AdvanceResult struct {
	Order       *model.Order
	Payment     *model.Payment
	Advanced    bool
	SideEffects SideEffects
}

// AdvanceOrderForPayment подтверждает ожидающий заказ, если онлайн-платёж по нему оплачен.
// В остальных случаях ничего не меняет.
func (s *Service) AdvanceOrderForPayment(ctx context.Context, scope model.Scope, paymentID uuid.UUID) (*AdvanceResult, error) {
	p, err := s.repo.GetPayment(ctx, scope.TenantID, paymentID)
	if err != nil {
		return nil, classify("get payment", err)
	}
	order, err := s.loadOrder(ctx, scope, p.OrderID)
	if err != nil {
		return nil, err
	}

	res := &AdvanceResult{Order: order, Payment: p}
	if p.Status != model.PaymentStatusPaid || !p.Method.IsOnline() || order.Status != model.OrderStatusPending {
		return res, nil
	}

	notes := fmt.Sprintf("payment %s confirmed", p.ID)
	tr, err := s.confirm(ctx, scope, order, 0, &notes, notify.OrderStatusChanged, notify.OrderAccepted)
	if errors.Is(err, apperr.ErrInvalidState) {
		// Заказ уже сменил статус параллельно.
		res.Order, err = s.loadOrder(ctx, scope, order.ID)
		return res, err
	}
	if err != nil {
		return nil, err
	}
	res.Order = tr.Order
	res.Advanced = true
	res.SideEffects = tr.SideEffects
	return res, nil
}
