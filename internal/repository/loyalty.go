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

// GetActivePrograms возвращает активные программы лояльности арендатора вместе с фильтрами.
func (r *PostgresRepository) GetActivePrograms(ctx context.Context, tenantID uuid.UUID) ([]model.LoyaltyProgram, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, name, type, points_per_currency, currency_unit_value, min_order_value,
		        points_validity_days, reward_type, reward_value, target_count, active, created_at
		 FROM loyalty_programs
		 WHERE tenant_id = $1 AND active
		 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("select loyalty programs: %w", err)
	}
	defer rows.Close()

	var programs []model.LoyaltyProgram
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			p   model.LoyaltyProgram
			typ string
		)
		err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &typ, &p.PointsPerCurrency, &p.CurrencyUnitValue, &p.MinOrderValue,
			&p.PointsValidityDays, &p.RewardType, &p.RewardValue, &p.TargetCount, &p.Active, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan loyalty program: %w", err)
		}
		p.Type = model.LoyaltyProgramType(typ)
		index[p.ID] = len(programs)
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(programs) == 0 {
		return programs, nil
	}

	ids := make([]uuid.UUID, 0, len(programs))
	for _, p := range programs {
		ids = append(ids, p.ID)
	}

	filterRows, err := r.pool.Query(ctx,
		`SELECT program_id, product_id, category_id FROM loyalty_program_filters WHERE program_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select loyalty filters: %w", err)
	}
	defer filterRows.Close()

	for filterRows.Next() {
		var (
			programID uuid.UUID
			f         model.LoyaltyFilter
		)
		if err := filterRows.Scan(&programID, &f.ProductID, &f.CategoryID); err != nil {
			return nil, fmt.Errorf("scan loyalty filter: %w", err)
		}
		if i, ok := index[programID]; ok {
			programs[i].Filters = append(programs[i].Filters, f)
		}
	}
	if err := filterRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return programs, nil
}

// GetLoyaltyBalance возвращает баланс клиента. Отсутствующий баланс считается нулевым.
func (r *PostgresRepository) GetLoyaltyBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*model.CustomerLoyaltyBalance, error) {
	b := model.CustomerLoyaltyBalance{TenantID: tenantID, CustomerID: customerID}
	err := r.pool.QueryRow(ctx,
		`SELECT balance, total_earned, total_redeemed, updated_at
		 FROM customer_loyalty_balances
		 WHERE tenant_id = $1 AND customer_id = $2`,
		tenantID, customerID,
	).Scan(&b.Balance, &b.TotalEarned, &b.TotalRedeemed, &b.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get loyalty balance: %w", err)
	}
	return &b, nil
}

// RecordAccrual записывает транзакции начисления и увеличивает баланс одним обновлением.
// Баланс создаётся при первом начислении.
func (r *PostgresRepository) RecordAccrual(ctx context.Context, a Accrual) error {
	if a.TotalPoints <= 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		for _, t := range a.Transactions {
			if err := insertLoyaltyTransaction(ctx, tx, t); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO customer_loyalty_balances (tenant_id, customer_id, balance, total_earned, updated_at)
			 VALUES ($1, $2, $3, $3, $4)
			 ON CONFLICT (tenant_id, customer_id) DO UPDATE
			 SET balance = customer_loyalty_balances.balance + EXCLUDED.balance,
			     total_earned = customer_loyalty_balances.total_earned + EXCLUDED.total_earned,
			     updated_at = EXCLUDED.updated_at`,
			a.TenantID, a.CustomerID, a.TotalPoints, a.At,
		)
		if err != nil {
			return fmt.Errorf("increment loyalty balance: %w", err)
		}
		return nil
	})
}

func insertLoyaltyTransaction(ctx context.Context, tx pgx.Tx, t model.LoyaltyTransaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO loyalty_transactions (id, tenant_id, customer_id, program_id, order_id, type, points,
		                                   description, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.TenantID, t.CustomerID, t.ProgramID, t.OrderID, string(t.Type), t.Points, t.Description, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert loyalty transaction: %w", err)
	}
	return nil
}

// redeemPoints списывает баллы под блокировкой строки баланса.
func redeemPoints(ctx context.Context, tx pgx.Tx, o *model.Order, red *model.LoyaltyRedemption) error {
	var balance int64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM customer_loyalty_balances
		 WHERE tenant_id = $1 AND customer_id = $2
		 FOR UPDATE`,
		o.TenantID, red.CustomerID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Validation("insufficient loyalty balance")
		}
		return fmt.Errorf("lock loyalty balance: %w", err)
	}
	if balance < red.Points {
		return apperr.Validation("insufficient loyalty balance: %d < %d", balance, red.Points)
	}

	_, err = tx.Exec(ctx,
		`UPDATE customer_loyalty_balances
		 SET balance = balance - $3, total_redeemed = total_redeemed + $3, updated_at = $4
		 WHERE tenant_id = $1 AND customer_id = $2`,
		o.TenantID, red.CustomerID, red.Points, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("debit loyalty balance: %w", err)
	}

	return insertLoyaltyTransaction(ctx, tx, model.LoyaltyTransaction{
		ID:          uuid.New(),
		TenantID:    o.TenantID,
		CustomerID:  red.CustomerID,
		ProgramID:   &red.ProgramID,
		OrderID:     &o.ID,
		Type:        model.LoyaltyRedeem,
		Points:      red.Points,
		Description: fmt.Sprintf("redeemed on order %s", o.ID),
		CreatedAt:   o.CreatedAt,
	})
}

