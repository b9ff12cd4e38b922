package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/cellrent/internal/model"
)

const paymentColumns = `p.id, p.rental_id, p.gateway_order_id, p.gateway_payment_id, p.amount_minor, p.currency,
	p.status, p.gateway_status, p.raw_notification_payload, p.signature_valid, p.applied_to_rental,
	p.prev_end_date, p.extended_to, p.applied_version, p.created_at, p.confirmed_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.RentalID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.AmountMinor, &p.Currency,
		&status, &p.GatewayStatus, &p.RawNotificationPayload, &p.SignatureValid, &p.AppliedToRental,
		&p.PrevEndDate, &p.ExtendedTo, &p.AppliedVersion, &p.CreatedAt, &p.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)

	return &p, nil
}

func (r *PostgresRepository) getPayment(ctx context.Context, where string, arg any) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE `+where, arg)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment %v", model.ErrNotFound, arg)
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return p, nil
}

// CreatePayment сохраняет платёж в статусе PENDING.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payments (rental_id, gateway_order_id, amount_minor, currency, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		p.RentalID, p.GatewayOrderID, p.AmountMinor, p.Currency, string(model.PaymentStatusPending),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order id %s", model.ErrConflict, p.GatewayOrderID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	p.Status = model.PaymentStatusPending
	return nil
}

// AttachGatewayPaymentID записывает идентификатор платежа, выданный банком при Init.
func (r *PostgresRepository) AttachGatewayPaymentID(ctx context.Context, paymentID int64, gatewayPaymentID, gatewayStatus string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payments SET gateway_payment_id = $2, gateway_status = $3
		 WHERE id = $1 AND gateway_payment_id IS NULL`,
		paymentID, gatewayPaymentID, gatewayStatus,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePaymentID
		}
		return fmt.Errorf("attach gateway payment id: %w", err)
	}
	return nil
}

// FailPayment закрывает платёж, для которого не удалось создать платёж в банке.
func (r *PostgresRepository) FailPayment(ctx context.Context, paymentID int64, gatewayStatus string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2, gateway_status = $3
		 WHERE id = $1 AND status = $4`,
		paymentID, string(model.PaymentStatusFailed), gatewayStatus, string(model.PaymentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}
	return nil
}

// GetPaymentByOrderID ищет платёж по идентификатору заказа.
func (r *PostgresRepository) GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	return r.getPayment(ctx, `p.gateway_order_id = $1`, orderID)
}

// Finalization описывает перевод платежа PENDING → CONFIRMED | FAILED по уведомлению банка.
type Finalization struct {
	PaymentID        int64
	Status           model.PaymentStatus
	GatewayStatus    string
	GatewayPaymentID string
	RawPayload       []byte
	SignatureValid   bool
	At               time.Time
}

// FinalizePayment переводит платёж из PENDING в терминальный статус.
// Возвращает обновлённый платёж и false, если платёж уже был завершён
// другим уведомлением. Совпадение идентификатора платежа банка с чужой
// записью возвращает ErrDuplicatePaymentID.
func (r *PostgresRepository) FinalizePayment(ctx context.Context, f Finalization) (*model.Payment, bool, error) {
	var confirmedAt *time.Time
	if f.Status == model.PaymentStatusConfirmed {
		confirmedAt = &f.At
	}

	var gatewayPaymentID *string
	if f.GatewayPaymentID != "" {
		gatewayPaymentID = &f.GatewayPaymentID
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE payments p
		 SET status = $2, gateway_status = $3,
		     gateway_payment_id = COALESCE($4, p.gateway_payment_id),
		     raw_notification_payload = $5, signature_valid = $6, confirmed_at = $7
		 WHERE p.id = $1 AND p.status = $8
		 RETURNING `+paymentColumns,
		f.PaymentID, string(f.Status), f.GatewayStatus, gatewayPaymentID,
		f.RawPayload, f.SignatureValid, confirmedAt, string(model.PaymentStatusPending),
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		if isUniqueViolation(err) {
			return nil, false, ErrDuplicatePaymentID
		}
		return nil, false, fmt.Errorf("finalize payment: %w", err)
	}

	return p, true, nil
}

// LatestConfirmedPayment возвращает последний подтверждённый платёж аренды или nil.
func (r *PostgresRepository) LatestConfirmedPayment(ctx context.Context, rentalID int64) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments p
		 WHERE p.rental_id = $1 AND p.status = $2
		 ORDER BY p.confirmed_at DESC, p.id DESC
		 LIMIT 1`,
		rentalID, string(model.PaymentStatusConfirmed),
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest confirmed payment: %w", err)
	}

	return p, nil
}

// ListPayments возвращает платежи аренды, новые первыми.
func (r *PostgresRepository) ListPayments(ctx context.Context, rentalID int64) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.rental_id = $1 ORDER BY p.created_at DESC, p.id DESC`,
		rentalID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payments, nil
}
