package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/model"
)

// syncEventType помечает в журнале состояние, полученное опросом провайдера.
const syncEventType = "sync.lookup"

// StartPaymentSync запускает фоновую сверку незавершённых платежей с провайдерами.
// Работает до отмены контекста.
func (s *Service) StartPaymentSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info("payment sync disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processPaymentBatch(ctx)
			}
		}
	}()
}

// processPaymentBatch выполняет один проход сверки и возвращает число изменённых платежей.
func (s *Service) processPaymentBatch(ctx context.Context) int {
	payments, err := s.repo.ListPendingPayments(ctx, s.opts.SyncBatchSize)
	if err != nil {
		s.logger.Error("failed to list pending payments", zap.Error(err))
		return 0
	}

	applied := 0
	for i := range payments {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.syncPayment(ctx, &payments[i])
		if err != nil {
			s.logger.Warn("payment sync failed",
				zap.Error(err),
				zap.String("payment_id", payments[i].ID.String()),
				zap.String("provider", string(payments[i].Provider)),
			)
			continue
		}
		if ok {
			applied++
		}
	}
	return applied
}

func (s *Service) syncPayment(ctx context.Context, p *model.Payment) (bool, error) {
	if p.QRCodeExpiresAt != nil && !s.now().Before(*p.QRCodeExpiresAt) {
		_, applied, err := s.applyPaymentStatus(ctx, p, model.PaymentStatusExpired, nil, nil)
		return applied, err
	}
	if p.ProviderPaymentID == nil {
		return false, nil
	}

	provider, cfg, err := s.gateways.ResolveProvider(ctx, p.TenantID, string(p.Provider))
	if err != nil {
		return false, err
	}

	lctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	state, err := provider.LookupPayment(lctx, cfg, *p.ProviderPaymentID)
	if err != nil {
		return false, err
	}

	raw := state.Raw
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	err = s.repo.AppendPaymentEvent(ctx, model.PaymentTransactionEvent{
		ID:                uuid.New(),
		TenantID:          p.TenantID,
		Provider:          p.Provider,
		ProviderPaymentID: *p.ProviderPaymentID,
		EventType:         syncEventType,
		RawPayload:        raw,
		ReceivedAt:        s.now().UTC(),
	})
	if err != nil {
		return false, classify("append payment event", err)
	}

	_, applied, err := s.applyPaymentStatus(ctx, p, state.Status, state.PaidAt, state.Raw)
	if applied {
		s.logger.Info("payment reconciled by sync",
			zap.String("payment_id", p.ID.String()),
			zap.String("status", string(state.Status)),
		)
	}
	return applied, err
}
