package loyalty

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/orderflow/internal/model"
)

func ptr[T any](v T) *T { return &v }

func testOrder(tenant uuid.UUID, pizza, drinks uuid.UUID, drinksCategory uuid.UUID) *model.Order {
	return &model.Order{
		ID:         uuid.New(),
		TenantID:   tenant,
		CustomerID: uuid.New(),
		Subtotal:   9550,
		Total:      9550,
		Lines: []model.OrderLine{
			{ProductID: pizza, Quantity: 2, Subtotal: 8000},
			{ProductID: drinks, CategoryID: &drinksCategory, Quantity: 3, Subtotal: 1550},
		},
	}
}

func TestAccrue(t *testing.T) {
	tenant := uuid.New()
	pizza, soda, drinksCat := uuid.New(), uuid.New(), uuid.New()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		programs []model.LoyaltyProgram
		want     int64
		txCount  int
	}{
		{
			name: "points per value floors",
			programs: []model.LoyaltyProgram{
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyPointsPerValue, PointsPerCurrency: decimal.NewFromInt(1), Active: true},
			},
			want:    95,
			txCount: 1,
		},
		{
			name: "fractional points per value",
			programs: []model.LoyaltyProgram{
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyPointsPerValue, PointsPerCurrency: decimal.RequireFromString("0.1"), Active: true},
			},
			want:    9,
			txCount: 1,
		},
		{
			name: "order count is flat",
			programs: []model.LoyaltyProgram{
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyOrderCount, Active: true},
			},
			want:    1,
			txCount: 1,
		},
		{
			name: "item count by product and category",
			programs: []model.LoyaltyProgram{
				{
					ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyItemCount, Active: true,
					Filters: []model.LoyaltyFilter{{ProductID: &pizza}, {CategoryID: &drinksCat}},
				},
			},
			want:    5,
			txCount: 1,
		},
		{
			name: "item count without filters accrues nothing",
			programs: []model.LoyaltyProgram{
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyItemCount, Active: true},
			},
			want:    0,
			txCount: 0,
		},
		{
			name: "below minimum skipped",
			programs: []model.LoyaltyProgram{
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyOrderCount, MinOrderValue: 10000, Active: true},
			},
			want:    0,
			txCount: 0,
		},
		{
			name: "inactive skipped",
			programs: []model.LoyaltyProgram{
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyOrderCount},
			},
			want:    0,
			txCount: 0,
		},
		{
			name: "sum across programs",
			programs: []model.LoyaltyProgram{
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyOrderCount, Active: true},
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyPointsPerValue, PointsPerCurrency: decimal.NewFromInt(2), Active: true},
				{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyItemCount, Active: true, Filters: []model.LoyaltyFilter{{ProductID: &soda}}},
			},
			want:    1 + 191 + 3,
			txCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := testOrder(tenant, pizza, soda, drinksCat)
			res := Accrue(tt.programs, order, now)
			assert.Equal(t, tt.want, res.TotalPoints)
			require.Len(t, res.Transactions, tt.txCount)
			for _, tx := range res.Transactions {
				assert.Equal(t, model.LoyaltyEarn, tx.Type)
				assert.Positive(t, tx.Points)
				assert.Equal(t, order.ID, *tx.OrderID)
			}
		})
	}
}

func TestAccrue_Expiry(t *testing.T) {
	tenant := uuid.New()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	programs := []model.LoyaltyProgram{
		{ID: uuid.New(), TenantID: tenant, Type: model.LoyaltyOrderCount, Active: true, PointsValidityDays: ptr(30)},
	}
	order := testOrder(tenant, uuid.New(), uuid.New(), uuid.New())

	res := Accrue(programs, order, now)
	require.Len(t, res.Transactions, 1)
	require.NotNil(t, res.Transactions[0].ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *res.Transactions[0].ExpiresAt)
}

func TestRedeemDiscount(t *testing.T) {
	p := &model.LoyaltyProgram{CurrencyUnitValue: 10}

	points, discount := RedeemDiscount(p, 50, 10000)
	assert.Equal(t, int64(50), points)
	assert.Equal(t, int64(500), discount)

	points, discount = RedeemDiscount(p, 500, 1234)
	assert.Equal(t, int64(124), points)
	assert.Equal(t, int64(1234), discount)

	points, discount = RedeemDiscount(p, 10, 0)
	assert.Zero(t, points)
	assert.Zero(t, discount)
}

func TestRedemptionProgram(t *testing.T) {
	older := model.LoyaltyProgram{ID: uuid.New(), Active: true, CurrencyUnitValue: 5, CreatedAt: time.Unix(100, 0)}
	newer := model.LoyaltyProgram{ID: uuid.New(), Active: true, CurrencyUnitValue: 10, CreatedAt: time.Unix(200, 0)}
	inactive := model.LoyaltyProgram{ID: uuid.New(), CurrencyUnitValue: 20, CreatedAt: time.Unix(300, 0)}

	p, ok := RedemptionProgram([]model.LoyaltyProgram{older, inactive, newer})
	require.True(t, ok)
	assert.Equal(t, newer.ID, p.ID)

	_, ok = RedemptionProgram([]model.LoyaltyProgram{inactive})
	assert.False(t, ok)
}
