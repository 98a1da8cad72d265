package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/loyalty"
	"github.com/mmeshcher/orderflow/internal/metrics"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/repository"
)

// accrueLoyalty начисляет баллы за оформленный заказ. Вызывается один раз после фиксации заказа.
// Ошибка логируется и возвращается вызывающему как результат побочного эффекта.
func (s *Service) accrueLoyalty(ctx context.Context, order *model.Order, programs []model.LoyaltyProgram) (int64, error) {
	lctx, cancel := sideEffectContext(ctx, s.opts.NotifyTimeout)
	defer cancel()

	if programs == nil {
		var err error
		programs, err = s.repo.GetActivePrograms(lctx, order.TenantID)
		if err != nil {
			s.loyaltyFailed(order, err)
			return 0, err
		}
	}

	now := s.now().UTC()
	acc := loyalty.Accrue(programs, order, now)
	if acc.TotalPoints <= 0 {
		return 0, nil
	}

	err := s.repo.RecordAccrual(lctx, repository.Accrual{
		TenantID:     order.TenantID,
		CustomerID:   order.CustomerID,
		Transactions: acc.Transactions,
		TotalPoints:  acc.TotalPoints,
		At:           now,
	})
	if err != nil {
		s.loyaltyFailed(order, err)
		return 0, err
	}
	return acc.TotalPoints, nil
}

func (s *Service) loyaltyFailed(order *model.Order, err error) {
	metrics.SideEffectFailed("loyalty")
	s.logger.Warn("loyalty accrual failed",
		zap.Error(err),
		zap.String("order_id", order.ID.String()),
		zap.String("tenant_id", order.TenantID.String()),
	)
}

// GetLoyaltyBalance возвращает баланс баллов клиента в рамках арендатора.
// Клиент видит только собственный баланс.
func (s *Service) GetLoyaltyBalance(ctx context.Context, scope model.Scope, customerID uuid.UUID) (*model.CustomerLoyaltyBalance, error) {
	if scope.Role == model.RoleCustomer && (scope.UserID == nil || *scope.UserID != customerID) {
		return nil, apperr.NotFound("customer")
	}
	if _, err := s.repo.GetCustomer(ctx, scope.TenantID, customerID); err != nil {
		return nil, classify("get customer", err)
	}
	balance, err := s.repo.GetLoyaltyBalance(ctx, scope.TenantID, customerID)
	if err != nil {
		return nil, classify("get loyalty balance", err)
	}
	return balance, nil
}
