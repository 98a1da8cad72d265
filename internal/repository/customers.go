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

// UpsertCustomer находит клиента по нормализованному телефону или создаёт нового
// и связывает его с арендатором.
func (r *PostgresRepository) UpsertCustomer(ctx context.Context, tenantID uuid.UUID, c model.Customer) (*model.Customer, error) {
	var res model.Customer
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		// DO UPDATE нужен, чтобы RETURNING вернул уже существующую строку.
		err := tx.QueryRow(ctx,
			`INSERT INTO customers (id, name, phone, email)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (phone) DO UPDATE SET email = COALESCE(customers.email, EXCLUDED.email)
			 RETURNING id, name, phone, email, created_at`,
			c.ID, c.Name, c.Phone, c.Email,
		).Scan(&res.ID, &res.Name, &res.Phone, &res.Email, &res.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert customer: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO tenant_customers (tenant_id, customer_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			tenantID, res.ID,
		)
		if err != nil {
			return fmt.Errorf("link customer to tenant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// FindCustomerByPhone ищет клиента арендатора по нормализованному телефону.
func (r *PostgresRepository) FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*model.Customer, error) {
	var c model.Customer
	err := r.pool.QueryRow(ctx,
		`SELECT c.id, c.name, c.phone, c.email, c.created_at
		 FROM customers c
		 JOIN tenant_customers tc ON tc.customer_id = c.id
		 WHERE tc.tenant_id = $1 AND c.phone = $2`,
		tenantID, phone,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("customer")
		}
		return nil, fmt.Errorf("find customer by phone: %w", err)
	}
	return &c, nil
}

// GetCustomer возвращает клиента арендатора.
func (r *PostgresRepository) GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*model.Customer, error) {
	var c model.Customer
	err := r.pool.QueryRow(ctx,
		`SELECT c.id, c.name, c.phone, c.email, c.created_at
		 FROM customers c
		 JOIN tenant_customers tc ON tc.customer_id = c.id
		 WHERE tc.tenant_id = $1 AND c.id = $2`,
		tenantID, customerID,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("customer")
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}
