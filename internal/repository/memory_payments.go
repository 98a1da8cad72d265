package repository

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
)

// PaymentEvents возвращает журнал событий провайдеров арендатора.
func (m *MemoryRepository) PaymentEvents(tenantID uuid.UUID) []model.PaymentTransactionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.PaymentTransactionEvent
	for _, ev := range m.paymentEvents {
		if ev.TenantID == tenantID {
			res = append(res, ev)
		}
	}
	return res
}

// UpsertGatewayConfig сохраняет настройки провайдера и деактивирует соседние конфигурации.
func (m *MemoryRepository) UpsertGatewayConfig(_ context.Context, cfg *model.GatewayConfig) (*model.GatewayConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if cfg.Active {
		for k, c := range m.gateways {
			if k.tenantID == cfg.TenantID && k.method == cfg.Method && k.provider != cfg.Provider && c.Active {
				c.Active = false
				c.UpdatedAt = now
			}
		}
	}

	key := gatewayKey{cfg.TenantID, cfg.Provider, cfg.Method}
	stored, ok := m.gateways[key]
	if !ok {
		stored = &model.GatewayConfig{ID: cfg.ID, TenantID: cfg.TenantID, Provider: cfg.Provider, Method: cfg.Method, CreatedAt: now}
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		m.gateways[key] = stored
	}
	stored.AccessToken = cfg.AccessToken
	stored.WebhookSecret = cfg.WebhookSecret
	stored.Sandbox = cfg.Sandbox
	stored.Active = cfg.Active
	stored.UpdatedAt = now

	cp := *stored
	return &cp, nil
}

// GetActiveGatewayConfig возвращает активную конфигурацию метода оплаты.
func (m *MemoryRepository) GetActiveGatewayConfig(_ context.Context, tenantID uuid.UUID, method model.PaymentMethod) (*model.GatewayConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.gateways {
		if k.tenantID == tenantID && k.method == method && c.Active {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("payment gateway config")
}

// GetGatewayConfig возвращает конфигурацию провайдера.
func (m *MemoryRepository) GetGatewayConfig(_ context.Context, tenantID uuid.UUID, provider model.PaymentProvider, method model.PaymentMethod) (*model.GatewayConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.gateways[gatewayKey{tenantID, provider, method}]
	if !ok {
		return nil, apperr.NotFound("payment gateway config")
	}
	cp := *c
	return &cp, nil
}

// CreatePayment сохраняет попытку оплаты.
func (m *MemoryRepository) CreatePayment(_ context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Status == model.PaymentStatusPending {
		for _, existing := range m.payments {
			if existing.OrderID == p.OrderID && existing.Method == p.Method && existing.Status == model.PaymentStatusPending {
				return apperr.Conflict("order %s already has a pending %s payment", p.OrderID, p.Method)
			}
		}
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

// GetPayment возвращает платёж арендатора.
func (m *MemoryRepository) GetPayment(_ context.Context, tenantID, paymentID uuid.UUID) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.TenantID != tenantID {
		return nil, apperr.NotFound("payment")
	}
	cp := *p
	return &cp, nil
}

// GetPendingPayment возвращает незавершённый платёж заказа.
func (m *MemoryRepository) GetPendingPayment(_ context.Context, tenantID, orderID uuid.UUID, method model.PaymentMethod) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.OrderID == orderID && p.Method == method && p.Status == model.PaymentStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("payment")
}

// GetPaymentByProviderID ищет платёж по идентификатору провайдера.
func (m *MemoryRepository) GetPaymentByProviderID(_ context.Context, tenantID uuid.UUID, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.Provider == provider && p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("payment")
}

// UpdatePaymentCharge сохраняет ответ провайдера.
func (m *MemoryRepository) UpdatePaymentCharge(_ context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok || stored.TenantID != p.TenantID || stored.Status != model.PaymentStatusPending {
		return apperr.InvalidState("payment %s is no longer pending", p.ID)
	}
	stored.ProviderPaymentID = p.ProviderPaymentID
	stored.QRCode = p.QRCode
	stored.QRCodeBase64 = p.QRCodeBase64
	stored.QRCodeExpiresAt = p.QRCodeExpiresAt
	stored.RawResponse = p.RawResponse
	stored.UpdatedAt = p.UpdatedAt
	return nil
}

// TransitionPayment меняет статус, если текущий статус равен ожидаемому.
func (m *MemoryRepository) TransitionPayment(_ context.Context, t PaymentTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[t.PaymentID]
	if !ok || p.TenantID != t.TenantID || p.Status != t.From {
		return false, nil
	}
	p.Status = t.To
	if t.To == model.PaymentStatusPaid && p.PaidAt == nil && t.PaidAt != nil {
		paidAt := *t.PaidAt
		p.PaidAt = &paidAt
	}
	if t.Raw != nil {
		p.RawResponse = t.Raw
	}
	p.UpdatedAt = t.At
	return true, nil
}

// ListPendingPayments возвращает незавершённые платежи в порядке создания.
func (m *MemoryRepository) ListPendingPayments(_ context.Context, limit int) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Payment
	for _, p := range m.payments {
		if p.Status == model.PaymentStatusPending {
			res = append(res, *p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// AppendPaymentEvent добавляет событие в журнал.
func (m *MemoryRepository) AppendPaymentEvent(_ context.Context, ev model.PaymentTransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentEvents = append(m.paymentEvents, ev)
	return nil
}

// ListPaymentEvents возвращает журнал событий по платежу провайдера.
func (m *MemoryRepository) ListPaymentEvents(_ context.Context, tenantID uuid.UUID, provider model.PaymentProvider, providerPaymentID string) ([]model.PaymentTransactionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.PaymentTransactionEvent
	for _, ev := range m.paymentEvents {
		if ev.TenantID == tenantID && ev.Provider == provider && ev.ProviderPaymentID == providerPaymentID {
			res = append(res, ev)
		}
	}
	return res, nil
}
