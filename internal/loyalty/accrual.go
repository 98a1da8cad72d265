// Package loyalty реализует правила начисления и списания баллов лояльности.
package loyalty

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/orderflow/internal/model"
)

// Accrual содержит результат расчёта начисления по заказу.
type Accrual struct {
	Transactions []model.LoyaltyTransaction
	TotalPoints  int64
}

// Accrue рассчитывает баллы, заработанные заказом, по всем активным программам арендатора.
// Для каждой программы с ненулевым начислением создаётся одна транзакция EARN.
func Accrue(programs []model.LoyaltyProgram, order *model.Order, now time.Time) Accrual {
	var res Accrual
	for i := range programs {
		p := &programs[i]
		if !p.Active || p.TenantID != order.TenantID {
			continue
		}
		if order.Subtotal < p.MinOrderValue {
			continue
		}

		points := Points(p, order)
		if points <= 0 {
			continue
		}

		tx := model.LoyaltyTransaction{
			ID:          uuid.New(),
			TenantID:    order.TenantID,
			CustomerID:  order.CustomerID,
			ProgramID:   &p.ID,
			OrderID:     &order.ID,
			Type:        model.LoyaltyEarn,
			Points:      points,
			Description: fmt.Sprintf("%s: order %s", p.Type, order.ID),
			CreatedAt:   now,
		}
		if p.PointsValidityDays != nil && *p.PointsValidityDays > 0 {
			exp := now.AddDate(0, 0, *p.PointsValidityDays)
			tx.ExpiresAt = &exp
		}

		res.Transactions = append(res.Transactions, tx)
		res.TotalPoints += points
	}
	return res
}

// Points возвращает количество баллов, которое заказ приносит по одной программе.
func Points(p *model.LoyaltyProgram, order *model.Order) int64 {
	switch p.Type {
	case model.LoyaltyPointsPerValue:
		return decimal.New(order.Total, -2).Mul(p.PointsPerCurrency).Floor().IntPart()
	case model.LoyaltyOrderCount:
		return 1
	case model.LoyaltyItemCount:
		var count int64
		for _, l := range order.Lines {
			if matchesFilters(p.Filters, l) {
				count += l.Quantity
			}
		}
		return count
	}
	return 0
}

func matchesFilters(filters []model.LoyaltyFilter, l model.OrderLine) bool {
	for _, f := range filters {
		if f.ProductID != nil && *f.ProductID == l.ProductID {
			return true
		}
		if f.CategoryID != nil && l.CategoryID != nil && *f.CategoryID == *l.CategoryID {
			return true
		}
	}
	return false
}

// RedemptionProgram выбирает программу, определяющую стоимость балла при списании:
// самую позднюю активную программу с ненулевой стоимостью балла.
func RedemptionProgram(programs []model.LoyaltyProgram) (*model.LoyaltyProgram, bool) {
	var current *model.LoyaltyProgram
	for i := range programs {
		p := &programs[i]
		if !p.Active || p.CurrencyUnitValue <= 0 {
			continue
		}
		if current == nil || p.CreatedAt.After(current.CreatedAt) {
			current = p
		}
	}
	return current, current != nil
}

// RedeemDiscount рассчитывает фактически списываемые баллы и скидку, не превышающую остаток суммы.
func RedeemDiscount(p *model.LoyaltyProgram, requested, remaining int64) (points, discount int64) {
	if requested <= 0 || remaining <= 0 || p.CurrencyUnitValue <= 0 {
		return 0, 0
	}
	points = requested
	// Не списываем баллы сверх того, что нужно для обнуления суммы.
	if needed := (remaining + p.CurrencyUnitValue - 1) / p.CurrencyUnitValue; points > needed {
		points = needed
	}
	discount = points * p.CurrencyUnitValue
	if discount > remaining {
		discount = remaining
	}
	return points, discount
}
