// Package service реализует ядро заказов: оформление, жизненный цикл, оплату PIX и сверку вебхуков.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/metrics"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/notify"
	"github.com/mmeshcher/orderflow/internal/payment"
	"github.com/mmeshcher/orderflow/internal/repository"
)

// OrderStore описывает хранилище заказов.
type OrderStore interface {
	InsertOrder(ctx context.Context, in repository.OrderInsert) error
	GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.Order, error)
	TransitionOrder(ctx context.Context, t repository.OrderTransition) error
	AppendOrderLines(ctx context.Context, in repository.LinesAppend) error
	SoftDeleteOrder(ctx context.Context, tenantID, orderID uuid.UUID, from model.OrderStatus) error
}

// CustomerStore описывает хранилище клиентов.
type CustomerStore interface {
	UpsertCustomer(ctx context.Context, tenantID uuid.UUID, c model.Customer) (*model.Customer, error)
	GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*model.Customer, error)
	FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*model.Customer, error)
}

// CouponStore описывает чтение купонов. Погашение выполняется в InsertOrder.
type CouponStore interface {
	GetCouponByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error)
}

// LoyaltyStore описывает хранилище программ и балансов лояльности.
type LoyaltyStore interface {
	GetActivePrograms(ctx context.Context, tenantID uuid.UUID) ([]model.LoyaltyProgram, error)
	GetLoyaltyBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*model.CustomerLoyaltyBalance, error)
	RecordAccrual(ctx context.Context, a repository.Accrual) error
}

// PaymentStore описывает хранилище платежей, журнала событий и настроек шлюзов.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*model.Payment, error)
	GetPendingPayment(ctx context.Context, tenantID, orderID uuid.UUID, method model.PaymentMethod) (*model.Payment, error)
	GetPaymentByProviderID(ctx context.Context, tenantID uuid.UUID, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error)
	UpdatePaymentCharge(ctx context.Context, p *model.Payment) error
	TransitionPayment(ctx context.Context, t repository.PaymentTransition) (bool, error)
	ListPendingPayments(ctx context.Context, limit int) ([]model.Payment, error)
	AppendPaymentEvent(ctx context.Context, ev model.PaymentTransactionEvent) error
	UpsertGatewayConfig(ctx context.Context, cfg *model.GatewayConfig) (*model.GatewayConfig, error)
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	OrderStore
	CustomerStore
	CouponStore
	LoyaltyStore
	PaymentStore
}

// CatalogReader описывает чтение каталога для проверки и оценки позиций.
type CatalogReader interface {
	GetProducts(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]model.Product, error)
	GetAddons(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]model.Addon, error)
}

// GatewayResolver выбирает платёжного провайдера арендатора.
type GatewayResolver interface {
	ResolvePixProvider(ctx context.Context, tenantID uuid.UUID) (payment.Provider, *model.GatewayConfig, error)
	ResolveProvider(ctx context.Context, tenantID uuid.UUID, name string) (payment.Provider, *model.GatewayConfig, error)
}

// Options содержит параметры работы сервиса.
type Options struct {
	Currency        string
	PixExpiration   time.Duration
	ProviderTimeout time.Duration
	NotifyTimeout   time.Duration
	CatalogTimeout  time.Duration
	SyncBatchSize   int
}

func (o Options) withDefaults() Options {
	if o.Currency == "" {
		o.Currency = "BRL"
	}
	if o.PixExpiration <= 0 {
		o.PixExpiration = 30 * time.Minute
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 10 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 3 * time.Second
	}
	if o.CatalogTimeout <= 0 {
		o.CatalogTimeout = 3 * time.Second
	}
	if o.SyncBatchSize <= 0 {
		o.SyncBatchSize = 100
	}
	return o
}

// Service содержит бизнес-логику ядра заказов.
type Service struct {
	repo     Repository
	catalog  CatalogReader
	gateways GatewayResolver
	sink     notify.Sink
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewService создаёт сервис. Если sink не задан, события пишутся в лог.
func NewService(repo Repository, catalog CatalogReader, gateways GatewayResolver, sink notify.Sink, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}
	return &Service{
		repo:     repo,
		catalog:  catalog,
		gateways: gateways,
		sink:     sink,
		logger:   logger,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// SideEffects фиксирует результат побочных эффектов операции.
// Ошибка побочного эффекта не отменяет основную операцию.
type SideEffects struct {
	Notification error
	Loyalty      error
}

// OK сообщает, что все побочные эффекты выполнены.
func (e SideEffects) OK() bool {
	return e.Notification == nil && e.Loyalty == nil
}

// classify оставляет ожидаемые ошибки как есть, остальные помечает как внутренние.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrInternal) || apperr.Kind(err) != apperr.ErrInternal {
		return err
	}
	return apperr.Internal(op, err)
}

// sideEffectContext отвязывает побочный эффект от отмены запроса и ограничивает его по времени.
func sideEffectContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (s *Service) notify(ctx context.Context, events ...notify.Event) error {
	var errs []error
	for _, e := range events {
		nctx, cancel := sideEffectContext(ctx, s.opts.NotifyTimeout)
		err := s.sink.Notify(nctx, e)
		cancel()
		if err != nil {
			metrics.SideEffectFailed("notification")
			s.logger.Warn("notification failed",
				zap.Error(err),
				zap.String("event", string(e.Type)),
				zap.String("order_id", e.OrderID.String()),
				zap.String("tenant_id", e.TenantID.String()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", e.Type, err))
		}
	}
	return errors.Join(errs...)
}
