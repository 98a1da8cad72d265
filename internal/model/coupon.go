package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType описывает способ расчёта скидки по купону.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// Coupon описывает купон арендатора. Код уникален в пределах арендатора.
//
// DiscountValue хранит процент для DiscountPercentage и сумму в денежных единицах для DiscountFixed.
// MinOrderValue и MaxDiscountValue заданы в центах.
type Coupon struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Code             string
	DiscountType     DiscountType
	DiscountValue    decimal.Decimal
	MinOrderValue    *int64
	MaxDiscountValue *int64
	UsageLimit       *int64
	UsageCount       int64
	ValidFrom        *time.Time
	ValidUntil       *time.Time
	Active           bool
	DeletedAt        *time.Time
}

// CouponRedemption описывает погашение купона в рамках оформления заказа.
type CouponRedemption struct {
	CouponID uuid.UUID
	Code     string
	Discount int64
}
