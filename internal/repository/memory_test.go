package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
)

func newPendingOrder(tenantID uuid.UUID) *model.Order {
	now := time.Now()
	o := &model.Order{
		ID:         uuid.New(),
		TenantID:   tenantID,
		CustomerID: uuid.New(),
		Type:       model.OrderTypeCounter,
		Status:     model.OrderStatusPending,
		Lines: []model.OrderLine{
			{ID: uuid.New(), ProductID: uuid.New(), ProductName: "Pizza", UnitPrice: 5000, Quantity: 2, Subtotal: 10000},
		},
		History:   []model.StatusHistoryEntry{{Status: model.OrderStatusPending, ChangedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	o.Recalculate()
	return o
}

func TestMemoryRepository_CouponLimitUnderConcurrency(t *testing.T) {
	repo := NewMemoryRepository()
	tenant := uuid.New()
	limit := int64(3)
	coupon := model.Coupon{
		ID:            uuid.New(),
		TenantID:      tenant,
		Code:          "PROMO",
		DiscountType:  model.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		UsageLimit:    &limit,
		Active:        true,
	}
	repo.AddCoupon(coupon)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.InsertOrder(context.Background(), OrderInsert{
				Order:  newPendingOrder(tenant),
				Coupon: &model.CouponRedemption{CouponID: coupon.ID, Code: coupon.Code, Discount: 1000},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, ok := repo.Coupon(coupon.ID)
	require.True(t, ok)
	assert.Equal(t, int64(3), stored.UsageCount)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, conflicts)
	assert.Equal(t, 3, repo.OrderCount())
}

func TestMemoryRepository_InsertOrderRollsBackOnInsufficientPoints(t *testing.T) {
	repo := NewMemoryRepository()
	tenant := uuid.New()
	coupon := model.Coupon{ID: uuid.New(), TenantID: tenant, Code: "X", DiscountType: model.DiscountFixed, Active: true}
	repo.AddCoupon(coupon)

	o := newPendingOrder(tenant)
	repo.SetLoyaltyBalance(model.CustomerLoyaltyBalance{TenantID: tenant, CustomerID: o.CustomerID, Balance: 5})

	err := repo.InsertOrder(context.Background(), OrderInsert{
		Order:   o,
		Coupon:  &model.CouponRedemption{CouponID: coupon.ID, Code: "X"},
		Loyalty: &model.LoyaltyRedemption{CustomerID: o.CustomerID, ProgramID: uuid.New(), Points: 10},
	})
	require.ErrorIs(t, err, apperr.ErrValidation)

	stored, _ := repo.Coupon(coupon.ID)
	assert.Zero(t, stored.UsageCount)
	assert.Zero(t, repo.OrderCount())

	b, err := repo.GetLoyaltyBalance(context.Background(), tenant, o.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Balance)
}

func TestMemoryRepository_TransitionOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	o := newPendingOrder(uuid.New())
	require.NoError(t, repo.InsertOrder(ctx, OrderInsert{Order: o}))

	entry := model.StatusHistoryEntry{Status: model.OrderStatusConfirmed, ChangedAt: time.Now()}
	require.NoError(t, repo.TransitionOrder(ctx, OrderTransition{TenantID: o.TenantID, OrderID: o.ID, From: model.OrderStatusPending, Entry: entry}))

	// Второй запрос с устаревшим ожидаемым статусом проигрывает гонку.
	err := repo.TransitionOrder(ctx, OrderTransition{TenantID: o.TenantID, OrderID: o.ID, From: model.OrderStatusPending, Entry: entry})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := repo.GetOrder(ctx, o.TenantID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
	assert.Len(t, got.History, 2)
	assert.Equal(t, int64(2), got.Version)

	_, err = repo.GetOrder(ctx, uuid.New(), o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryRepository_AppendOrderLinesVersionCheck(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	o := newPendingOrder(uuid.New())
	require.NoError(t, repo.InsertOrder(ctx, OrderInsert{Order: o}))

	line := model.OrderLine{ID: uuid.New(), ProductID: uuid.New(), ProductName: "Soda", UnitPrice: 500, Quantity: 1, Subtotal: 500}
	require.NoError(t, repo.AppendOrderLines(ctx, LinesAppend{
		TenantID: o.TenantID, OrderID: o.ID, ExpectedVersion: 1, Lines: []model.OrderLine{line}, Subtotal: 10500, Total: 10500,
	}))

	err := repo.AppendOrderLines(ctx, LinesAppend{
		TenantID: o.TenantID, OrderID: o.ID, ExpectedVersion: 1, Lines: []model.OrderLine{line}, Subtotal: 11000, Total: 11000,
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := repo.GetOrder(ctx, o.TenantID, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
	assert.Equal(t, int64(10500), got.Total)
}

func TestMemoryRepository_SoftDelete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	o := newPendingOrder(uuid.New())
	require.NoError(t, repo.InsertOrder(ctx, OrderInsert{Order: o}))

	require.NoError(t, repo.SoftDeleteOrder(ctx, o.TenantID, o.ID, model.OrderStatusPending))

	_, err := repo.GetOrder(ctx, o.TenantID, o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, repo.SoftDeleteOrder(ctx, o.TenantID, o.ID, model.OrderStatusPending), apperr.ErrInvalidState)
}

func TestMemoryRepository_GatewayActivationDeactivatesSiblings(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	tenant := uuid.New()

	_, err := repo.UpsertGatewayConfig(ctx, &model.GatewayConfig{TenantID: tenant, Provider: model.ProviderStripe, Method: model.PaymentMethodPix, AccessToken: "sk", Active: true})
	require.NoError(t, err)
	_, err = repo.UpsertGatewayConfig(ctx, &model.GatewayConfig{TenantID: tenant, Provider: model.ProviderMercadoPago, Method: model.PaymentMethodPix, AccessToken: "mp", Active: true})
	require.NoError(t, err)

	active, err := repo.GetActiveGatewayConfig(ctx, tenant, model.PaymentMethodPix)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderMercadoPago, active.Provider)

	stripeCfg, err := repo.GetGatewayConfig(ctx, tenant, model.ProviderStripe, model.PaymentMethodPix)
	require.NoError(t, err)
	assert.False(t, stripeCfg.Active)
}

func TestMemoryRepository_PaymentTransitions(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	tenant := uuid.New()
	orderID := uuid.New()

	p := &model.Payment{ID: uuid.New(), OrderID: orderID, TenantID: tenant, Amount: 100, Method: model.PaymentMethodPix, Status: model.PaymentStatusPending}
	require.NoError(t, repo.CreatePayment(ctx, p))

	second := &model.Payment{ID: uuid.New(), OrderID: orderID, TenantID: tenant, Amount: 100, Method: model.PaymentMethodPix, Status: model.PaymentStatusPending}
	assert.ErrorIs(t, repo.CreatePayment(ctx, second), apperr.ErrConflict)

	paidAt := time.Now()
	ok, err := repo.TransitionPayment(ctx, PaymentTransition{TenantID: tenant, PaymentID: p.ID, From: model.PaymentStatusPending, To: model.PaymentStatusPaid, PaidAt: &paidAt})
	require.NoError(t, err)
	assert.True(t, ok)

	later := paidAt.Add(time.Minute)
	ok, err = repo.TransitionPayment(ctx, PaymentTransition{TenantID: tenant, PaymentID: p.ID, From: model.PaymentStatusPending, To: model.PaymentStatusPaid, PaidAt: &later})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetPayment(ctx, tenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.Status)
	assert.True(t, got.PaidAt.Equal(paidAt))
}
