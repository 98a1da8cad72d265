package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/metrics"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/payment"
)

// ReconcileResult содержит результат обработки вебхука провайдера.
type ReconcileResult struct {
	Payment *model.Payment
	EventID string
	Applied bool
}

// ReconcileWebhook проверяет событие провайдера, сохраняет его в журнал и применяет
// допустимый переход статуса платежа. Повторная доставка события не меняет платёж.
func (s *Service) ReconcileWebhook(ctx context.Context, tenantID uuid.UUID, providerName string, req payment.WebhookRequest) (*ReconcileResult, error) {
	provider, cfg, err := s.gateways.ResolveProvider(ctx, tenantID, providerName)
	if err != nil {
		return nil, classify("resolve provider", err)
	}
	name := string(provider.Name())

	ev, err := provider.ParseWebhook(ctx, cfg, req)
	if err != nil {
		metrics.WebhookEvent(name, "rejected")
		if errors.Is(err, payment.ErrInvalidSignature) || errors.Is(err, payment.ErrMalformedPayload) {
			return nil, apperr.Validation("%s webhook: %v", name, err)
		}
		return nil, apperr.ExternalProvider(name, err)
	}

	raw := ev.Raw
	if raw == nil {
		raw = req.Payload
	}
	if err := s.repo.AppendPaymentEvent(ctx, model.PaymentTransactionEvent{
		ID:                uuid.New(),
		TenantID:          tenantID,
		Provider:          provider.Name(),
		ProviderPaymentID: ev.ProviderPaymentID,
		ProviderEventID:   ev.EventID,
		EventType:         ev.EventType,
		RawPayload:        raw,
		ReceivedAt:        s.now().UTC(),
	}); err != nil {
		return nil, classify("append payment event", err)
	}

	if ev.ProviderPaymentID == "" {
		metrics.WebhookEvent(name, "ignored")
		return &ReconcileResult{EventID: ev.EventID}, nil
	}

	p, err := s.repo.GetPaymentByProviderID(ctx, tenantID, provider.Name(), ev.ProviderPaymentID)
	if err != nil {
		metrics.WebhookEvent(name, "unknown_payment")
		return nil, classify("get payment by provider id", err)
	}

	updated, applied, err := s.applyPaymentStatus(ctx, p, ev.Status, ev.PaidAt, raw)
	if err != nil {
		return nil, err
	}

	outcome := "ignored"
	if applied {
		outcome = "applied"
	}
	metrics.WebhookEvent(name, outcome)
	s.logger.Info("webhook reconciled",
		zap.String("provider", name),
		zap.String("event_id", ev.EventID),
		zap.String("event_type", ev.EventType),
		zap.String("payment_id", p.ID.String()),
		zap.Bool("applied", applied),
	)
	return &ReconcileResult{Payment: updated, EventID: ev.EventID, Applied: applied}, nil
}
