package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/cellrent/internal/model"
)

// ReserveEmailLog резервирует окно напоминания строкой в статусе PENDING.
// Возвращает false, если строка для (rentalID, type, offsetDays) уже есть
// в любом статусе.
func (r *PostgresRepository) ReserveEmailLog(ctx context.Context, l *model.EmailLog) (bool, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO email_logs (rental_id, client_id, type, offset_days, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (rental_id, type, offset_days) DO NOTHING
		 RETURNING id, created_at`,
		l.RentalID, l.ClientID, string(l.Type), l.OffsetDays, string(model.EmailStatusPending),
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reserve email log: %w", err)
	}

	l.Status = model.EmailStatusPending
	return true, nil
}

// CompleteEmailLog фиксирует результат отправки: SENT с временем или FAILED с текстом ошибки.
func (r *PostgresRepository) CompleteEmailLog(ctx context.Context, id int64, status model.EmailStatus, at time.Time, errText string) error {
	var (
		sentAt *time.Time
		errCol *string
	)
	if status == model.EmailStatusSent {
		sentAt = &at
	}
	if errText != "" {
		errCol = &errText
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE email_logs SET status = $2, sent_at = $3, error = $4 WHERE id = $1`,
		id, string(status), sentAt, errCol,
	)
	if err != nil {
		return fmt.Errorf("complete email log: %w", err)
	}
	return nil
}

// ListEmailLogs возвращает журнал уведомлений аренды.
func (r *PostgresRepository) ListEmailLogs(ctx context.Context, rentalID int64) ([]model.EmailLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, rental_id, client_id, type, offset_days, status, sent_at, error, created_at
		 FROM email_logs WHERE rental_id = $1 ORDER BY created_at DESC, id DESC`,
		rentalID,
	)
	if err != nil {
		return nil, fmt.Errorf("select email logs: %w", err)
	}
	defer rows.Close()

	var logs []model.EmailLog
	for rows.Next() {
		var (
			l           model.EmailLog
			typ, status string
		)
		if err := rows.Scan(&l.ID, &l.RentalID, &l.ClientID, &typ, &l.OffsetDays, &status, &l.SentAt, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		l.Type = model.EmailType(typ)
		l.Status = model.EmailStatus(status)
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return logs, nil
}
