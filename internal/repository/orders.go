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

const orderColumns = `id, tenant_id, customer_id, type, status, subtotal, delivery_fee, discount_amount,
	loyalty_discount_amount, loyalty_points_used, coupon_code, total, table_id, delivery_address, notes,
	estimated_delivery_at, created_at, updated_at, deleted_at, version`

// InsertOrder сохраняет заказ вместе с погашением купона и списанием баллов в одной транзакции.
// Если купон уже исчерпан или баллов недостаточно, не сохраняется ничего.
func (r *PostgresRepository) InsertOrder(ctx context.Context, in OrderInsert) error {
	o := in.Order
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if in.Coupon != nil {
			if err := redeemCoupon(ctx, tx, o.TenantID, in.Coupon); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO orders (`+orderColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			o.ID, o.TenantID, o.CustomerID, string(o.Type), string(o.Status), o.Subtotal, o.DeliveryFee,
			o.DiscountAmount, o.LoyaltyDiscountAmount, o.LoyaltyPointsUsed, o.CouponCode, o.Total, o.TableID,
			o.DeliveryAddress, o.Notes, o.EstimatedDeliveryAt, o.CreatedAt, o.UpdatedAt, o.DeletedAt, o.Version,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if err := insertLines(ctx, tx, o.ID, 0, o.Lines); err != nil {
			return err
		}

		for _, h := range o.History {
			if err := insertHistory(ctx, tx, o.ID, h); err != nil {
				return err
			}
		}

		if in.Loyalty != nil {
			if err := redeemPoints(ctx, tx, o, in.Loyalty); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertLines(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, offset int, lines []model.OrderLine) error {
	for i, l := range lines {
		_, err := tx.Exec(ctx,
			`INSERT INTO order_lines (id, order_id, position, product_id, product_name, category_id,
			                          unit_price, quantity, notes, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			l.ID, orderID, offset+i, l.ProductID, l.ProductName, l.CategoryID, l.UnitPrice, l.Quantity, l.Notes, l.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}

		for _, a := range l.Addons {
			_, err := tx.Exec(ctx,
				`INSERT INTO order_line_addons (id, line_id, addon_id, name, unit_price, quantity, subtotal)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				a.ID, l.ID, a.AddonID, a.Name, a.UnitPrice, a.Quantity, a.Subtotal,
			)
			if err != nil {
				return fmt.Errorf("insert line addon: %w", err)
			}
		}
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, h model.StatusHistoryEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, changed_at, actor_id, notes)
		 VALUES ($1, $2, $3, $4, $5)`,
		orderID, string(h.Status), h.ChangedAt, h.ActorID, h.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ арендатора со всеми позициями, историей и записью об отказе.
func (r *PostgresRepository) GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`,
		tenantID, orderID,
	))
	if err != nil {
		return nil, err
	}

	if o.Lines, err = r.getLines(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.History, err = r.getHistory(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Rejection, err = r.getRejection(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		typ    string
		status string
	)
	err := row.Scan(
		&o.ID, &o.TenantID, &o.CustomerID, &typ, &status, &o.Subtotal, &o.DeliveryFee, &o.DiscountAmount,
		&o.LoyaltyDiscountAmount, &o.LoyaltyPointsUsed, &o.CouponCode, &o.Total, &o.TableID, &o.DeliveryAddress,
		&o.Notes, &o.EstimatedDeliveryAt, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt, &o.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order")
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (r *PostgresRepository) getLines(ctx context.Context, orderID uuid.UUID) ([]model.OrderLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, product_name, category_id, unit_price, quantity, notes, subtotal
		 FROM order_lines
		 WHERE order_id = $1
		 ORDER BY position`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	var lines []model.OrderLine
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ProductName, &l.CategoryID, &l.UnitPrice, &l.Quantity, &l.Notes, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		index[l.ID] = len(lines)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(lines) == 0 {
		return lines, nil
	}

	addonRows, err := r.pool.Query(ctx,
		`SELECT a.id, a.line_id, a.addon_id, a.name, a.unit_price, a.quantity, a.subtotal
		 FROM order_line_addons a
		 JOIN order_lines l ON l.id = a.line_id
		 WHERE l.order_id = $1
		 ORDER BY l.position, a.id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select line addons: %w", err)
	}
	defer addonRows.Close()

	for addonRows.Next() {
		var (
			a      model.LineAddon
			lineID uuid.UUID
		)
		if err := addonRows.Scan(&a.ID, &lineID, &a.AddonID, &a.Name, &a.UnitPrice, &a.Quantity, &a.Subtotal); err != nil {
			return nil, fmt.Errorf("scan line addon: %w", err)
		}
		if i, ok := index[lineID]; ok {
			lines[i].Addons = append(lines[i].Addons, a)
		}
	}
	if err := addonRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return lines, nil
}

func (r *PostgresRepository) getHistory(ctx context.Context, orderID uuid.UUID) ([]model.StatusHistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, changed_at, actor_id, notes
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select status history: %w", err)
	}
	defer rows.Close()

	var res []model.StatusHistoryEntry
	for rows.Next() {
		var (
			h      model.StatusHistoryEntry
			status string
		)
		if err := rows.Scan(&status, &h.ChangedAt, &h.ActorID, &h.Notes); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		h.Status = model.OrderStatus(status)
		res = append(res, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) getRejection(ctx context.Context, orderID uuid.UUID) (*model.RejectionRecord, error) {
	var rec model.RejectionRecord
	err := r.pool.QueryRow(ctx,
		`SELECT reason, notes, rejected_by, rejected_at FROM order_rejections WHERE order_id = $1`,
		orderID,
	).Scan(&rec.Reason, &rec.Notes, &rec.RejectedBy, &rec.RejectedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rejection: %w", err)
	}
	return &rec, nil
}

// TransitionOrder меняет статус заказа, только если текущий статус равен ожидаемому,
// и добавляет запись в историю. Проигравший гонку получает ErrInvalidState без записи в историю.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, t OrderTransition) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders
			 SET status = $3,
			     estimated_delivery_at = COALESCE($4, estimated_delivery_at),
			     updated_at = $5,
			     version = version + 1
			 WHERE tenant_id = $1 AND id = $2 AND status = $6 AND deleted_at IS NULL`,
			t.TenantID, t.OrderID, string(t.Entry.Status), t.EstimatedDeliveryAt, t.Entry.ChangedAt, string(t.From),
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.InvalidState("order %s is no longer %s", t.OrderID, t.From)
		}

		if err := insertHistory(ctx, tx, t.OrderID, t.Entry); err != nil {
			return err
		}

		if t.Rejection != nil {
			_, err := tx.Exec(ctx,
				`INSERT INTO order_rejections (order_id, reason, notes, rejected_by, rejected_at)
				 VALUES ($1, $2, $3, $4, $5)`,
				t.OrderID, t.Rejection.Reason, t.Rejection.Notes, t.Rejection.RejectedBy, t.Rejection.RejectedAt,
			)
			if err != nil {
				if isUniqueViolation(err, "") {
					return apperr.Conflict("order %s is already rejected", t.OrderID)
				}
				return fmt.Errorf("insert rejection: %w", err)
			}
		}
		return nil
	})
}

// AppendOrderLines добавляет позиции и обновляет суммы, если версия заказа не изменилась.
func (r *PostgresRepository) AppendOrderLines(ctx context.Context, in LinesAppend) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders
			 SET subtotal = $4, total = $5, updated_at = $6, version = version + 1
			 WHERE tenant_id = $1 AND id = $2 AND version = $3 AND deleted_at IS NULL
			   AND status NOT IN ('DELIVERED', 'CANCELLED', 'REJECTED')`,
			in.TenantID, in.OrderID, in.ExpectedVersion, in.Subtotal, in.Total, in.At,
		)
		if err != nil {
			return fmt.Errorf("update order totals: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("order %s was modified concurrently", in.OrderID)
		}

		var count int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM order_lines WHERE order_id = $1`, in.OrderID).Scan(&count); err != nil {
			return fmt.Errorf("count order lines: %w", err)
		}
		return insertLines(ctx, tx, in.OrderID, count, in.Lines)
	})
}

// SoftDeleteOrder помечает заказ удалённым, если его статус не изменился.
func (r *PostgresRepository) SoftDeleteOrder(ctx context.Context, tenantID, orderID uuid.UUID, from model.OrderStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET deleted_at = now(), updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND status = $3 AND deleted_at IS NULL`,
		tenantID, orderID, string(from),
	)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("order %s is no longer %s", orderID, from)
	}
	return nil
}
