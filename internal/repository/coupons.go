package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
)

// GetCouponByCode возвращает купон арендатора по коду. Удалённые купоны не возвращаются.
func (r *PostgresRepository) GetCouponByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	var c model.Coupon
	var discountType string
	err := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, code, discount_type, discount_value, min_order_value, max_discount_value,
		        usage_limit, usage_count, valid_from, valid_until, active, deleted_at
		 FROM coupons
		 WHERE tenant_id = $1 AND code = $2 AND deleted_at IS NULL`,
		tenantID, code,
	).Scan(
		&c.ID, &c.TenantID, &c.Code, &discountType, &c.DiscountValue, &c.MinOrderValue, &c.MaxDiscountValue,
		&c.UsageLimit, &c.UsageCount, &c.ValidFrom, &c.ValidUntil, &c.Active, &c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("coupon")
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	c.DiscountType = model.DiscountType(discountType)
	return &c, nil
}

// redeemCoupon увеличивает счётчик использований, если лимит ещё не исчерпан.
// Условие в WHERE сериализует конкурентные погашения на блокировке строки.
func redeemCoupon(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, red *model.CouponRedemption) error {
	tag, err := tx.Exec(ctx,
		`UPDATE coupons
		 SET usage_count = usage_count + 1
		 WHERE id = $1 AND tenant_id = $2 AND active AND deleted_at IS NULL
		   AND (usage_limit IS NULL OR usage_count < usage_limit)`,
		red.CouponID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("redeem coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("coupon %s is no longer redeemable", red.Code)
	}
	return nil
}
