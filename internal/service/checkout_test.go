package service

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
	"github.com/mmeshcher/orderflow/internal/notify"
)

func strPtr(s string) *string { return &s }

func TestCheckout_PricesFromCatalog(t *testing.T) {
	f := newFixture(t)

	req := f.request(
		LineInput{ProductID: f.burger.ID, Quantity: 2, Addons: []AddonInput{{AddonID: f.cheese.ID, Quantity: 2}}},
		LineInput{ProductID: f.soda.ID, Quantity: 1},
	)
	res, err := f.svc.Checkout(context.Background(), f.staff, req)
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, int64(2*2500+2*300+500), o.Subtotal)
	assert.Equal(t, o.Subtotal, o.Total)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "Burger", o.Lines[0].ProductName)
	require.Len(t, o.Lines[0].Addons, 1)
	assert.Equal(t, int64(600), o.Lines[0].Addons[0].Subtotal)
	require.Len(t, o.History, 1)
	assert.Equal(t, model.OrderStatusPending, o.History[0].Status)
	assert.Equal(t, []notify.EventType{notify.OrderCreated}, f.sink.types())

	stored, err := f.svc.GetOrder(context.Background(), f.staff, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Total, stored.Total)
}

func TestCheckout_PercentageCouponCapped(t *testing.T) {
	f := newFixture(t)
	c := percentCoupon(f.tenant, "SAVE10", 10, 500)
	f.repo.AddCoupon(c)

	req := f.request(LineInput{ProductID: f.burger.ID, Quantity: 4})
	req.CouponCode = strPtr(" save10 ")
	res, err := f.svc.Checkout(context.Background(), f.staff, req)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), res.Order.Subtotal)
	assert.Equal(t, int64(500), res.Order.DiscountAmount)
	assert.Equal(t, int64(9500), res.Order.Total)
	require.NotNil(t, res.Order.CouponCode)
	assert.Equal(t, "SAVE10", *res.Order.CouponCode)

	stored, ok := f.repo.Coupon(c.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), stored.UsageCount)
}

func TestCheckout_FixedCouponClampedToSubtotal(t *testing.T) {
	f := newFixture(t)
	f.repo.AddCoupon(model.Coupon{
		ID:            uuid.New(),
		TenantID:      f.tenant,
		Code:          "TWENTY",
		DiscountType:  model.DiscountFixed,
		DiscountValue: decimal.NewFromInt(20),
		Active:        true,
	})

	req := f.request(LineInput{ProductID: f.soda.ID, Quantity: 2})
	req.CouponCode = strPtr("TWENTY")
	res, err := f.svc.Checkout(context.Background(), f.staff, req)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), res.Order.Subtotal)
	assert.Equal(t, int64(1000), res.Order.DiscountAmount)
	assert.Equal(t, int64(0), res.Order.Total)
}

func TestCheckout_InapplicableCouponIgnored(t *testing.T) {
	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		coupon func(tenant uuid.UUID) model.Coupon
		code   string
	}{
		{
			name: "expired",
			coupon: func(tenant uuid.UUID) model.Coupon {
				c := percentCoupon(tenant, "OLD", 10, 1000)
				c.ValidUntil = &past
				return c
			},
			code: "OLD",
		},
		{
			name: "below minimum",
			coupon: func(tenant uuid.UUID) model.Coupon {
				c := percentCoupon(tenant, "BIG", 10, 1000)
				c.MinOrderValue = int64Ptr(100000)
				return c
			},
			code: "BIG",
		},
		{
			name: "usage limit reached",
			coupon: func(tenant uuid.UUID) model.Coupon {
				c := percentCoupon(tenant, "ONCE", 10, 1000)
				c.UsageLimit = int64Ptr(1)
				c.UsageCount = 1
				return c
			},
			code: "ONCE",
		},
		{
			name: "inactive",
			coupon: func(tenant uuid.UUID) model.Coupon {
				c := percentCoupon(tenant, "OFF", 10, 1000)
				c.Active = false
				return c
			},
			code: "OFF",
		},
		{
			name: "other tenant",
			coupon: func(uuid.UUID) model.Coupon {
				return percentCoupon(uuid.New(), "ELSEWHERE", 10, 1000)
			},
			code: "ELSEWHERE",
		},
		{
			name: "unknown code",
			coupon: func(tenant uuid.UUID) model.Coupon {
				return percentCoupon(tenant, "KNOWN", 10, 1000)
			},
			code: "MISSING",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := tt.coupon(f.tenant)
			f.repo.AddCoupon(c)

			req := f.request()
			req.CouponCode = strPtr(tt.code)
			res, err := f.svc.Checkout(context.Background(), f.staff, req)
			require.NoError(t, err)

			assert.Zero(t, res.Order.DiscountAmount)
			assert.Nil(t, res.Order.CouponCode)
			assert.Equal(t, res.Order.Subtotal, res.Order.Total)

			stored, _ := f.repo.Coupon(c.ID)
			assert.Equal(t, c.UsageCount, stored.UsageCount)
			assert.Equal(t, 1, f.logs.FilterMessage("coupon ignored").Len())
		})
	}
}

func TestCheckout_CouponUsageLimitUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	c := percentCoupon(f.tenant, "LIMITED", 10, 10000)
	c.UsageLimit = int64Ptr(2)
	f.repo.AddCoupon(c)

	const workers = 16
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		discounted int
		conflicts  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := f.request()
			req.CouponCode = strPtr("LIMITED")
			res, err := f.svc.Checkout(context.Background(), f.staff, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			case res.Order.DiscountAmount > 0:
				discounted++
			}
		}()
	}
	wg.Wait()

	stored, _ := f.repo.Coupon(c.ID)
	assert.Equal(t, int64(2), stored.UsageCount)
	assert.Equal(t, 2, discounted)
	assert.Equal(t, workers-conflicts, f.repo.OrderCount())
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, req *CheckoutRequest)
	}{
		{"no lines", func(_ *fixture, req *CheckoutRequest) { req.Lines = nil }},
		{"zero quantity", func(f *fixture, req *CheckoutRequest) {
			req.Lines = []LineInput{{ProductID: f.burger.ID, Quantity: 0}}
		}},
		{"zero addon quantity", func(f *fixture, req *CheckoutRequest) {
			req.Lines = []LineInput{{ProductID: f.burger.ID, Quantity: 1, Addons: []AddonInput{{AddonID: f.cheese.ID}}}}
		}},
		{"unknown product", func(_ *fixture, req *CheckoutRequest) {
			req.Lines = []LineInput{{ProductID: uuid.New(), Quantity: 1}}
		}},
		{"unknown addon", func(f *fixture, req *CheckoutRequest) {
			req.Lines = []LineInput{{ProductID: f.burger.ID, Quantity: 1, Addons: []AddonInput{{AddonID: uuid.New(), Quantity: 1}}}}
		}},
		{"inactive product", func(f *fixture, req *CheckoutRequest) {
			p := model.Product{ID: uuid.New(), TenantID: f.tenant, Name: "Old", Price: 100}
			f.repo.AddProduct(p)
			req.Lines = []LineInput{{ProductID: p.ID, Quantity: 1}}
		}},
		{"product of other tenant", func(f *fixture, req *CheckoutRequest) {
			p := model.Product{ID: uuid.New(), TenantID: uuid.New(), Name: "Foreign", Price: 100, Active: true}
			f.repo.AddProduct(p)
			req.Lines = []LineInput{{ProductID: p.ID, Quantity: 1}}
		}},
		{"empty name", func(_ *fixture, req *CheckoutRequest) { req.Customer.Name = "  " }},
		{"empty phone", func(_ *fixture, req *CheckoutRequest) { req.Customer.Phone = "()-" }},
		{"short phone", func(_ *fixture, req *CheckoutRequest) { req.Customer.Phone = "12345" }},
		{"unknown type", func(_ *fixture, req *CheckoutRequest) { req.Type = "DRONE" }},
		{"delivery without address", func(_ *fixture, req *CheckoutRequest) { req.Type = model.OrderTypeDelivery }},
		{"table without table id", func(_ *fixture, req *CheckoutRequest) { req.Type = model.OrderTypeTable }},
		{"dine in without table id", func(_ *fixture, req *CheckoutRequest) { req.Type = model.OrderTypeDineIn }},
		{"negative delivery fee", func(_ *fixture, req *CheckoutRequest) { req.DeliveryFee = int64Ptr(-1) }},
		{"negative points", func(_ *fixture, req *CheckoutRequest) { req.LoyaltyPointsToRedeem = -5 }},
		{"quantity over limit", func(f *fixture, req *CheckoutRequest) {
			req.Lines = []LineInput{{ProductID: f.burger.ID, Quantity: 3689348814741910324}}
		}},
		{"addon quantity over limit", func(f *fixture, req *CheckoutRequest) {
			req.Lines = []LineInput{{ProductID: f.burger.ID, Quantity: 1, Addons: []AddonInput{{AddonID: f.cheese.ID, Quantity: maxItemQuantity + 1}}}}
		}},
		{"line amount over limit", func(f *fixture, req *CheckoutRequest) {
			p := model.Product{ID: uuid.New(), TenantID: f.tenant, Name: "Banquet", Price: maxOrderAmount / 2, Active: true}
			f.repo.AddProduct(p)
			req.Lines = []LineInput{{ProductID: p.ID, Quantity: 3}}
		}},
		{"order amount over limit", func(f *fixture, req *CheckoutRequest) {
			p := model.Product{ID: uuid.New(), TenantID: f.tenant, Name: "Banquet", Price: maxOrderAmount / 2, Active: true}
			f.repo.AddProduct(p)
			req.Lines = []LineInput{{ProductID: p.ID, Quantity: 1}, {ProductID: p.ID, Quantity: 1}, {ProductID: f.soda.ID, Quantity: 1}}
		}},
		{"delivery fee over limit", func(_ *fixture, req *CheckoutRequest) { req.DeliveryFee = int64Ptr(maxOrderAmount + 1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request()
			tt.mutate(f, &req)

			_, err := f.svc.Checkout(context.Background(), f.staff, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Zero(t, f.repo.OrderCount())
			assert.Zero(t, f.repo.CustomerCount())
			assert.Empty(t, f.sink.types())
		})
	}
}

func TestCheckout_MaxQuantity(t *testing.T) {
	f := newFixture(t)

	o := f.checkout(t, f.request(LineInput{ProductID: f.soda.ID, Quantity: maxItemQuantity}))
	assert.Equal(t, int64(500_000), o.Subtotal)
	assert.Equal(t, int64(500_000), o.Lines[0].Subtotal)
}

func TestCheckout_DeliveryFee(t *testing.T) {
	f := newFixture(t)

	req := f.request()
	req.Type = model.OrderTypeDelivery
	req.DeliveryAddress = strPtr("Rua Augusta, 100")
	req.DeliveryFee = int64Ptr(700)
	res, err := f.svc.Checkout(context.Background(), f.staff, req)
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.Order.DeliveryFee)
	assert.Equal(t, int64(5700), res.Order.Total)

	pickup := f.request()
	pickup.DeliveryFee = int64Ptr(700)
	res, err = f.svc.Checkout(context.Background(), f.staff, pickup)
	require.NoError(t, err)
	assert.Zero(t, res.Order.DeliveryFee)
	assert.Equal(t, int64(5000), res.Order.Total)
}

func TestCheckout_ReusesCustomerByPhone(t *testing.T) {
	f := newFixture(t)

	first := f.checkout(t, f.request())

	req := f.request()
	req.Customer.Phone = "5511987654321"
	second := f.checkout(t, req)

	assert.Equal(t, first.CustomerID, second.CustomerID)
}

func TestCheckout_TableOrder(t *testing.T) {
	f := newFixture(t)

	table := uuid.New()
	req := f.request()
	req.Type = model.OrderTypeTable
	req.TableID = &table
	o := f.checkout(t, req)
	require.NotNil(t, o.TableID)
	assert.Equal(t, table, *o.TableID)
}

func TestCheckout_AccruesLoyalty(t *testing.T) {
	f := newFixture(t)
	f.repo.AddLoyaltyProgram(model.LoyaltyProgram{
		ID:                uuid.New(),
		TenantID:          f.tenant,
		Type:              model.LoyaltyPointsPerValue,
		PointsPerCurrency: decimal.NewFromInt(1),
		Active:            true,
	})
	f.repo.AddLoyaltyProgram(model.LoyaltyProgram{
		ID:       uuid.New(),
		TenantID: f.tenant,
		Type:     model.LoyaltyOrderCount,
		Active:   true,
	})
	f.repo.AddLoyaltyProgram(model.LoyaltyProgram{
		ID:       uuid.New(),
		TenantID: f.tenant,
		Type:     model.LoyaltyItemCount,
		Active:   true,
	})

	res, err := f.svc.Checkout(context.Background(), f.staff, f.request())
	require.NoError(t, err)
	require.True(t, res.SideEffects.OK())

	// 50.00 по сумме заказа и 1 за сам заказ; программа по позициям без фильтров ничего не даёт.
	assert.Equal(t, int64(51), res.PointsEarned)

	txs := f.repo.LoyaltyTransactions(f.tenant, res.Order.CustomerID)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, model.LoyaltyEarn, tx.Type)
		require.NotNil(t, tx.OrderID)
		assert.Equal(t, res.Order.ID, *tx.OrderID)
	}

	balance, err := f.svc.GetLoyaltyBalance(context.Background(), f.staff, res.Order.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(51), balance.Balance)
	assert.Equal(t, int64(51), balance.TotalEarned)
}

func TestCheckout_ItemCountWithFilter(t *testing.T) {
	f := newFixture(t)
	f.repo.AddLoyaltyProgram(model.LoyaltyProgram{
		ID:       uuid.New(),
		TenantID: f.tenant,
		Type:     model.LoyaltyItemCount,
		Active:   true,
		Filters:  []model.LoyaltyFilter{{CategoryID: f.burger.CategoryID}},
	})

	res, err := f.svc.Checkout(context.Background(), f.staff, f.request(
		LineInput{ProductID: f.burger.ID, Quantity: 3},
		LineInput{ProductID: f.soda.ID, Quantity: 5},
	))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.PointsEarned)
}

func TestCheckout_NotificationFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("broker unavailable")

	res, err := f.svc.Checkout(context.Background(), f.staff, f.request())
	require.NoError(t, err)
	require.Error(t, res.SideEffects.Notification)
	assert.NoError(t, res.SideEffects.Loyalty)

	_, err = f.svc.GetOrder(context.Background(), f.staff, res.Order.ID)
	require.NoError(t, err)

	warnings := f.logs.FilterMessage("notification failed").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, res.Order.ID.String(), warnings[0].ContextMap()["order_id"])
}

func seedCustomer(t *testing.T, f *fixture, balance int64) uuid.UUID {
	t.Helper()
	c, err := f.repo.UpsertCustomer(context.Background(), f.tenant, model.Customer{
		ID:    uuid.New(),
		Name:  "Ana",
		Phone: "5511987654321",
	})
	require.NoError(t, err)
	f.repo.SetLoyaltyBalance(model.CustomerLoyaltyBalance{
		TenantID:    f.tenant,
		CustomerID:  c.ID,
		Balance:     balance,
		TotalEarned: balance,
	})
	return c.ID
}

func redemptionProgram(tenant uuid.UUID) model.LoyaltyProgram {
	return model.LoyaltyProgram{
		ID:                uuid.New(),
		TenantID:          tenant,
		Type:              model.LoyaltyPointsPerValue,
		CurrencyUnitValue: 10,
		Active:            true,
	}
}

func TestCheckout_RedeemsLoyaltyPoints(t *testing.T) {
	f := newFixture(t)
	f.repo.AddLoyaltyProgram(redemptionProgram(f.tenant))
	customerID := seedCustomer(t, f, 100)

	req := f.request()
	req.LoyaltyPointsToRedeem = 50
	res, err := f.svc.Checkout(context.Background(), f.staff, req)
	require.NoError(t, err)

	assert.Equal(t, customerID, res.Order.CustomerID)
	assert.Equal(t, int64(50), res.Order.LoyaltyPointsUsed)
	assert.Equal(t, int64(500), res.Order.LoyaltyDiscountAmount)
	assert.Equal(t, int64(4500), res.Order.Total)

	balance, err := f.repo.GetLoyaltyBalance(context.Background(), f.tenant, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)
	assert.Equal(t, int64(50), balance.TotalRedeemed)
}

func TestCheckout_RedemptionClampedToTotal(t *testing.T) {
	f := newFixture(t)
	f.repo.AddLoyaltyProgram(redemptionProgram(f.tenant))
	customerID := seedCustomer(t, f, 2000)

	req := f.request()
	req.LoyaltyPointsToRedeem = 1000
	res, err := f.svc.Checkout(context.Background(), f.staff, req)
	require.NoError(t, err)

	assert.Equal(t, int64(500), res.Order.LoyaltyPointsUsed)
	assert.Equal(t, int64(5000), res.Order.LoyaltyDiscountAmount)
	assert.Zero(t, res.Order.Total)

	balance, _ := f.repo.GetLoyaltyBalance(context.Background(), f.tenant, customerID)
	assert.Equal(t, int64(1500), balance.Balance)
}

func TestCheckout_RedemptionErrors(t *testing.T) {
	t.Run("insufficient balance", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddLoyaltyProgram(redemptionProgram(f.tenant))
		seedCustomer(t, f, 10)

		req := f.request()
		req.LoyaltyPointsToRedeem = 50
		_, err := f.svc.Checkout(context.Background(), f.staff, req)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, f.repo.OrderCount())
	})

	t.Run("new customer has no balance", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddLoyaltyProgram(redemptionProgram(f.tenant))

		req := f.request()
		req.LoyaltyPointsToRedeem = 50
		_, err := f.svc.Checkout(context.Background(), f.staff, req)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, f.repo.OrderCount())
		assert.Zero(t, f.repo.CustomerCount())
	})

	t.Run("customer of other tenant", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddLoyaltyProgram(redemptionProgram(f.tenant))
		_, err := f.repo.UpsertCustomer(context.Background(), uuid.New(), model.Customer{ID: uuid.New(), Name: "Ana", Phone: "5511987654321"})
		require.NoError(t, err)

		req := f.request()
		req.LoyaltyPointsToRedeem = 50
		_, err = f.svc.Checkout(context.Background(), f.staff, req)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, f.repo.OrderCount())
	})

	t.Run("no redemption program", func(t *testing.T) {
		f := newFixture(t)

		req := f.request()
		req.LoyaltyPointsToRedeem = 50
		_, err := f.svc.Checkout(context.Background(), f.staff, req)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, f.repo.OrderCount())
		assert.Zero(t, f.repo.CustomerCount())
	})
}

func TestGetLoyaltyBalance_Scope(t *testing.T) {
	f := newFixture(t)
	customerID := seedCustomer(t, f, 40)

	self := model.Scope{TenantID: f.tenant, UserID: &customerID, Role: model.RoleCustomer}
	b, err := f.svc.GetLoyaltyBalance(context.Background(), self, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), b.Balance)

	other := uuid.New()
	stranger := model.Scope{TenantID: f.tenant, UserID: &other, Role: model.RoleCustomer}
	_, err = f.svc.GetLoyaltyBalance(context.Background(), stranger, customerID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	foreign := model.Scope{TenantID: uuid.New(), UserID: f.staff.UserID, Role: model.RoleStaff}
	_, err = f.svc.GetLoyaltyBalance(context.Background(), foreign, customerID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
