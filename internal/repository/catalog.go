package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/orderflow/internal/model"
)

// GetProducts возвращает товары арендатора по идентификаторам. Удалённые товары не возвращаются.
func (r *PostgresRepository) GetProducts(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, name, price, category_id, active
		 FROM products
		 WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		tenantID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	res := make(map[uuid.UUID]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.CategoryID, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetAddons возвращает дополнения арендатора по идентификаторам.
func (r *PostgresRepository) GetAddons(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]model.Addon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, name, price, active
		 FROM addons
		 WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		tenantID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select addons: %w", err)
	}
	defer rows.Close()

	res := make(map[uuid.UUID]model.Addon, len(ids))
	for rows.Next() {
		var a model.Addon
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Price, &a.Active); err != nil {
			return nil, fmt.Errorf("scan addon: %w", err)
		}
		res[a.ID] = a
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
