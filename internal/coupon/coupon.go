// Package coupon реализует проверку купонов и расчёт скидки.
package coupon

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/orderflow/internal/model"
)

var (
	// ErrInactive возвращается для выключенного или удалённого купона.
	ErrInactive = errors.New("coupon is inactive")
	// ErrNotStarted возвращается, если срок действия купона ещё не начался.
	ErrNotStarted = errors.New("coupon is not yet valid")
	// ErrExpired возвращается, если срок действия купона истёк.
	ErrExpired = errors.New("coupon has expired")
	// ErrUsageLimitReached возвращается, если лимит использований исчерпан.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrBelowMinimum возвращается, если сумма заказа меньше минимальной для купона.
	ErrBelowMinimum = errors.New("order subtotal below coupon minimum")
	// ErrUnknownType возвращается для неизвестного типа скидки.
	ErrUnknownType = errors.New("unknown coupon discount type")
)

var hundred = decimal.NewFromInt(100)

// Validate проверяет применимость купона к заказу с указанным промежуточным итогом (в центах).
func Validate(c *model.Coupon, subtotal int64, now time.Time) error {
	if c == nil || !c.Active || c.DeletedAt != nil {
		return ErrInactive
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrNotStarted
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrExpired
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if c.MinOrderValue != nil && subtotal < *c.MinOrderValue {
		return ErrBelowMinimum
	}
	if c.DiscountType != model.DiscountPercentage && c.DiscountType != model.DiscountFixed {
		return ErrUnknownType
	}
	return nil
}

// Discount вычисляет скидку в центах. Скидка не превышает промежуточный итог.
func Discount(c *model.Coupon, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}

	var discount int64
	switch c.DiscountType {
	case model.DiscountPercentage:
		discount = decimal.NewFromInt(subtotal).Mul(c.DiscountValue).Div(hundred).Round(0).IntPart()
		if c.MaxDiscountValue != nil && discount > *c.MaxDiscountValue {
			discount = *c.MaxDiscountValue
		}
	case model.DiscountFixed:
		discount = c.DiscountValue.Shift(2).Round(0).IntPart()
	}

	if discount < 0 {
		return 0
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}

// Redeem проверяет купон и возвращает данные погашения.
func Redeem(c *model.Coupon, subtotal int64, now time.Time) (*model.CouponRedemption, error) {
	if err := Validate(c, subtotal, now); err != nil {
		return nil, err
	}
	return &model.CouponRedemption{
		CouponID: c.ID,
		Code:     c.Code,
		Discount: Discount(c, subtotal),
	}, nil
}
