package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
)

const gatewayColumns = `id, tenant_id, provider, method, access_token, webhook_secret, sandbox, active, created_at, updated_at`

func scanGatewayConfig(row pgx.Row) (*model.GatewayConfig, error) {
	var (
		c                model.GatewayConfig
		provider, method string
	)
	err := row.Scan(&c.ID, &c.TenantID, &provider, &method, &c.AccessToken, &c.WebhookSecret, &c.Sandbox, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment gateway config")
		}
		return nil, fmt.Errorf("scan gateway config: %w", err)
	}
	c.Provider = model.PaymentProvider(provider)
	c.Method = model.PaymentMethod(method)
	return &c, nil
}

// UpsertGatewayConfig сохраняет настройки провайдера. Активация конфигурации
// в той же транзакции деактивирует конфигурации других провайдеров для того же метода.
func (r *PostgresRepository) UpsertGatewayConfig(ctx context.Context, cfg *model.GatewayConfig) (*model.GatewayConfig, error) {
	var res *model.GatewayConfig
	now := time.Now()
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if cfg.Active {
			_, err := tx.Exec(ctx,
				`UPDATE payment_gateway_configs SET active = FALSE, updated_at = $4
				 WHERE tenant_id = $1 AND method = $2 AND provider <> $3 AND active`,
				cfg.TenantID, string(cfg.Method), string(cfg.Provider), now,
			)
			if err != nil {
				return fmt.Errorf("deactivate sibling configs: %w", err)
			}
		}

		id := cfg.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		var err error
		res, err = scanGatewayConfig(tx.QueryRow(ctx,
			`INSERT INTO payment_gateway_configs (id, tenant_id, provider, method, access_token, webhook_secret,
			                                      sandbox, active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			 ON CONFLICT (tenant_id, provider, method) DO UPDATE
			 SET access_token = EXCLUDED.access_token,
			     webhook_secret = EXCLUDED.webhook_secret,
			     sandbox = EXCLUDED.sandbox,
			     active = EXCLUDED.active,
			     updated_at = EXCLUDED.updated_at
			 RETURNING `+gatewayColumns,
			id, cfg.TenantID, string(cfg.Provider), string(cfg.Method), cfg.AccessToken, cfg.WebhookSecret,
			cfg.Sandbox, cfg.Active, now,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetActiveGatewayConfig возвращает активную конфигурацию арендатора для метода оплаты.
func (r *PostgresRepository) GetActiveGatewayConfig(ctx context.Context, tenantID uuid.UUID, method model.PaymentMethod) (*model.GatewayConfig, error) {
	return scanGatewayConfig(r.pool.QueryRow(ctx,
		`SELECT `+gatewayColumns+` FROM payment_gateway_configs
		 WHERE tenant_id = $1 AND method = $2 AND active`,
		tenantID, string(method),
	))
}

// GetGatewayConfig возвращает конфигурацию провайдера независимо от её активности.
func (r *PostgresRepository) GetGatewayConfig(ctx context.Context, tenantID uuid.UUID, provider model.PaymentProvider, method model.PaymentMethod) (*model.GatewayConfig, error) {
	return scanGatewayConfig(r.pool.QueryRow(ctx,
		`SELECT `+gatewayColumns+` FROM payment_gateway_configs
		 WHERE tenant_id = $1 AND provider = $2 AND method = $3`,
		tenantID, string(provider), string(method),
	))
}
