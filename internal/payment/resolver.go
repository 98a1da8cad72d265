package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
)

// ConfigStore описывает хранилище настроек платёжных шлюзов.
type ConfigStore interface {
	GetActiveGatewayConfig(ctx context.Context, tenantID uuid.UUID, method model.PaymentMethod) (*model.GatewayConfig, error)
	GetGatewayConfig(ctx context.Context, tenantID uuid.UUID, provider model.PaymentProvider, method model.PaymentMethod) (*model.GatewayConfig, error)
}

// Resolver выбирает провайдера по настройкам арендатора.
type Resolver struct {
	providers map[model.PaymentProvider]Provider
	store     ConfigStore
}

// NewResolver создаёт Resolver над зарегистрированными провайдерами.
func NewResolver(store ConfigStore, providers ...Provider) (*Resolver, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("payments: at least one provider is required")
	}
	m := make(map[model.PaymentProvider]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("payments: nil provider")
		}
		m[p.Name()] = p
	}
	return &Resolver{providers: m, store: store}, nil
}

// Provider возвращает адаптер по имени.
func (r *Resolver) Provider(name model.PaymentProvider) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// ResolvePixProvider возвращает активную PIX-конфигурацию арендатора и её провайдера.
func (r *Resolver) ResolvePixProvider(ctx context.Context, tenantID uuid.UUID) (Provider, *model.GatewayConfig, error) {
	cfg, err := r.store.GetActiveGatewayConfig(ctx, tenantID, model.PaymentMethodPix)
	if err != nil {
		return nil, nil, err
	}
	p, ok := r.providers[cfg.Provider]
	if !ok {
		return nil, nil, apperr.Validation("%s: %s", ErrUnsupportedProvider, cfg.Provider)
	}
	return p, cfg, nil
}

// ResolveProvider возвращает провайдера и PIX-конфигурацию арендатора по имени провайдера.
// Используется при обработке вебхуков, поэтому неактивная конфигурация тоже подходит:
// события по старым платежам продолжают приходить после переключения провайдера.
func (r *Resolver) ResolveProvider(ctx context.Context, tenantID uuid.UUID, name string) (Provider, *model.GatewayConfig, error) {
	providerName, ok := ParseProvider(name)
	if !ok {
		return nil, nil, apperr.NotFound("payment provider " + name)
	}
	p, ok := r.providers[providerName]
	if !ok {
		return nil, nil, apperr.NotFound("payment provider " + name)
	}
	cfg, err := r.store.GetGatewayConfig(ctx, tenantID, providerName, model.PaymentMethodPix)
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}
