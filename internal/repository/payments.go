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

const paymentColumns = `id, order_id, tenant_id, amount, currency, method, provider, provider_payment_id, status,
	qr_code, qr_code_base64, qr_code_expires_at, paid_at, raw_response, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p                        model.Payment
		method, provider, status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.TenantID, &p.Amount, &p.Currency, &method, &provider, &p.ProviderPaymentID,
		&status, &p.QRCode, &p.QRCodeBase64, &p.QRCodeExpiresAt, &p.PaidAt, &p.RawResponse, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment")
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Method = model.PaymentMethod(method)
	p.Provider = model.PaymentProvider(provider)
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

// CreatePayment сохраняет новую попытку оплаты. Вторая незавершённая попытка
// того же метода по заказу отклоняется уникальным индексом.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.OrderID, p.TenantID, p.Amount, p.Currency, string(p.Method), string(p.Provider), p.ProviderPaymentID,
		string(p.Status), p.QRCode, p.QRCodeBase64, p.QRCodeExpiresAt, p.PaidAt, p.RawResponse, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "payments_pending_method_idx") {
			return apperr.Conflict("order %s already has a pending %s payment", p.OrderID, p.Method)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPayment возвращает платёж арендатора.
func (r *PostgresRepository) GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*model.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND id = $2`,
		tenantID, paymentID,
	))
}

// GetPendingPayment возвращает незавершённый платёж заказа указанным методом.
func (r *PostgresRepository) GetPendingPayment(ctx context.Context, tenantID, orderID uuid.UUID, method model.PaymentMethod) (*model.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tenant_id = $1 AND order_id = $2 AND method = $3 AND status = 'PENDING'`,
		tenantID, orderID, string(method),
	))
}

// GetPaymentByProviderID ищет платёж по идентификатору на стороне провайдера.
func (r *PostgresRepository) GetPaymentByProviderID(ctx context.Context, tenantID uuid.UUID, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tenant_id = $1 AND provider = $2 AND provider_payment_id = $3`,
		tenantID, string(provider), providerPaymentID,
	))
}

// UpdatePaymentCharge сохраняет ответ провайдера на незавершённом платеже.
func (r *PostgresRepository) UpdatePaymentCharge(ctx context.Context, p *model.Payment) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments
		 SET provider_payment_id = $3, qr_code = $4, qr_code_base64 = $5, qr_code_expires_at = $6,
		     raw_response = $7, updated_at = $8
		 WHERE tenant_id = $1 AND id = $2 AND status = 'PENDING'`,
		p.TenantID, p.ID, p.ProviderPaymentID, p.QRCode, p.QRCodeBase64, p.QRCodeExpiresAt, p.RawResponse, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment charge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("payment %s is no longer pending", p.ID)
	}
	return nil
}

// TransitionPayment меняет статус платежа, только если текущий статус равен From.
// Возвращает false, если статус уже изменился. paid_at устанавливается один раз.
func (r *PostgresRepository) TransitionPayment(ctx context.Context, t PaymentTransition) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments
		 SET status = $4,
		     paid_at = CASE WHEN $4 = 'PAID' THEN COALESCE(paid_at, $5) ELSE paid_at END,
		     raw_response = COALESCE($6, raw_response),
		     updated_at = $7
		 WHERE tenant_id = $1 AND id = $2 AND status = $3`,
		t.TenantID, t.PaymentID, string(t.From), string(t.To), t.PaidAt, t.Raw, t.At,
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingPayments возвращает незавершённые платежи в порядке создания, включая
// попытки без идентификатора провайдера: их сверка только переводит истёкшие в EXPIRED.
func (r *PostgresRepository) ListPendingPayments(ctx context.Context, limit int) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = 'PENDING'
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// AppendPaymentEvent добавляет событие провайдера в журнал аудита.
func (r *PostgresRepository) AppendPaymentEvent(ctx context.Context, ev model.PaymentTransactionEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_transaction_events (id, tenant_id, provider, provider_payment_id, provider_event_id,
		                                         event_type, raw_payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.TenantID, string(ev.Provider), ev.ProviderPaymentID, ev.ProviderEventID, ev.EventType,
		[]byte(ev.RawPayload), ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

// ListPaymentEvents возвращает журнал событий по платежу провайдера в порядке поступления.
func (r *PostgresRepository) ListPaymentEvents(ctx context.Context, tenantID uuid.UUID, provider model.PaymentProvider, providerPaymentID string) ([]model.PaymentTransactionEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, provider, provider_payment_id, provider_event_id, event_type, raw_payload, received_at
		 FROM payment_transaction_events
		 WHERE tenant_id = $1 AND provider = $2 AND provider_payment_id = $3
		 ORDER BY received_at, id`,
		tenantID, string(provider), providerPaymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payment events: %w", err)
	}
	defer rows.Close()

	var res []model.PaymentTransactionEvent
	for rows.Next() {
		var (
			ev      model.PaymentTransactionEvent
			prov    string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &prov, &ev.ProviderPaymentID, &ev.ProviderEventID, &ev.EventType, &payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		ev.Provider = model.PaymentProvider(prov)
		ev.RawPayload = payload
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
