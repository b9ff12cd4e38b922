package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/cellrent/internal/lifecycle"
	"github.com/mmeshcher/cellrent/internal/model"
)

const rentalColumns = `r.id, r.client_id, r.start_date, r.end_date, r.manual_close_at, r.manual_close_reason,
	r.version, COALESCE(r.status, ''), r.status_version, r.status_cached_at, r.created_at,
	COALESCE((SELECT array_agg(rc.cell_id ORDER BY rc.cell_id) FROM rental_cells rc WHERE rc.rental_id = r.id), '{}')`

func scanRental(row pgx.Row, extra ...any) (*model.Rental, error) {
	var (
		rt     model.Rental
		status string
	)
	dest := []any{
		&rt.ID, &rt.ClientID, &rt.StartDate, &rt.EndDate, &rt.ManualCloseAt, &rt.ManualCloseReason,
		&rt.Version, &status, &rt.StatusVersion, &rt.StatusCachedAt, &rt.CreatedAt, &rt.CellIDs,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rt.Status = model.RentalStatus(status)

	return &rt, nil
}

// CreateRental сохраняет новую аренду вместе со списком ячеек.
func (r *PostgresRepository) CreateRental(ctx context.Context, rt *model.Rental) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO rentals (client_id, start_date, end_date) VALUES ($1, $2, $3) RETURNING id, version, created_at`,
		rt.ClientID, rt.StartDate, rt.EndDate,
	).Scan(&id, &rt.Version, &rt.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert rental: %w", err)
	}

	for _, cellID := range rt.CellIDs {
		_, err := tx.Exec(ctx,
			`INSERT INTO rental_cells (rental_id, cell_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, cellID,
		)
		if err != nil {
			return 0, fmt.Errorf("insert rental cell: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	rt.ID = id
	return id, nil
}

// GetRental возвращает аренду по идентификатору.
func (r *PostgresRepository) GetRental(ctx context.Context, id int64) (*model.Rental, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rentalColumns+` FROM rentals r WHERE r.id = $1`, id)

	rt, err := scanRental(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: rental %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get rental: %w", err)
	}

	return rt, nil
}

// ExtendRental условно переносит endDate: запись проходит только при совпадении
// версии и открытой аренде. В той же транзакции платёж помечается применённым;
// уже применённый платёж откатывает транзакцию с lifecycle.ErrAlreadyApplied.
func (r *PostgresRepository) ExtendRental(ctx context.Context, ext lifecycle.Extension) (bool, error) {
	var applied bool

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE rentals SET end_date = $2, version = version + 1
			 WHERE id = $1 AND version = $3 AND manual_close_at IS NULL`,
			ext.RentalID, ext.NewEndDate, ext.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update rental: %w", err)
		}
		if cmdTag.RowsAffected() != 1 {
			applied = false
			return nil
		}

		cmdTag, err = tx.Exec(ctx,
			`UPDATE payments
			 SET applied_to_rental = TRUE, prev_end_date = $2, extended_to = $3, applied_version = $4
			 WHERE id = $1 AND applied_to_rental = FALSE`,
			ext.PaymentID, ext.PrevEndDate, ext.NewEndDate, ext.ExpectedVersion+1,
		)
		if err != nil {
			return fmt.Errorf("mark payment applied: %w", err)
		}
		if cmdTag.RowsAffected() != 1 {
			return lifecycle.ErrAlreadyApplied
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		applied = true
		return nil
	})

	return applied, err
}

// CacheRentalStatus сохраняет вычисленный статус для указанной версии аренды.
// Кэш устаревшей версии не записывается.
func (r *PostgresRepository) CacheRentalStatus(ctx context.Context, rentalID int64, status model.RentalStatus, version int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE rentals SET status = $2, status_version = $3, status_cached_at = $4
		 WHERE id = $1 AND version = $3`,
		rentalID, string(status), version, at,
	)
	if err != nil {
		return fmt.Errorf("cache rental status: %w", err)
	}
	return nil
}

// CloseRental закрывает аренду вручную. Повторное закрытие — model.ErrInvalidState.
func (r *PostgresRepository) CloseRental(ctx context.Context, id int64, reason string, at time.Time) (*model.Rental, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE rentals r
		 SET manual_close_at = $2, manual_close_reason = $3, version = version + 1,
		     status = $4, status_version = version + 1, status_cached_at = $2
		 WHERE r.id = $1 AND r.manual_close_at IS NULL
		 RETURNING `+rentalColumns,
		id, at, reason, string(model.RentalStatusClosed),
	)

	rt, err := scanRental(row)
	if err == nil {
		return rt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("close rental: %w", err)
	}

	if _, err := r.GetRental(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: rental %d already closed", model.ErrInvalidState, id)
}

// ListRentalsEndingBetween возвращает открытые аренды с endDate в [from, to)
// вместе с контактами клиента и последним подтверждённым платежом.
func (r *PostgresRepository) ListRentalsEndingBetween(ctx context.Context, from, to time.Time) ([]model.DueRental, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+rentalColumns+`, COALESCE(c.name, ''), COALESCE(c.email, ''), lp.id
		 FROM rentals r
		 LEFT JOIN clients c ON c.id = r.client_id
		 LEFT JOIN LATERAL (
		     SELECT p.id FROM payments p
		     WHERE p.rental_id = r.id AND p.status = $3
		     ORDER BY p.confirmed_at DESC
		     LIMIT 1
		 ) lp ON TRUE
		 WHERE r.end_date >= $1 AND r.end_date < $2 AND r.manual_close_at IS NULL
		 ORDER BY r.end_date, r.id`,
		from, to, string(model.PaymentStatusConfirmed),
	)
	if err != nil {
		return nil, fmt.Errorf("select due rentals: %w", err)
	}
	defer rows.Close()

	type dueRow struct {
		due       model.DueRental
		paymentID *int64
	}

	var collected []dueRow
	for rows.Next() {
		var d dueRow
		rt, err := scanRental(rows, &d.due.ClientName, &d.due.ClientEmail, &d.paymentID)
		if err != nil {
			return nil, fmt.Errorf("scan due rental: %w", err)
		}
		d.due.Rental = *rt
		collected = append(collected, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	res := make([]model.DueRental, 0, len(collected))
	for _, d := range collected {
		if d.paymentID != nil {
			p, err := r.getPayment(ctx, `p.id = $1`, *d.paymentID)
			if err != nil {
				return nil, err
			}
			d.due.LatestPayment = p
		}
		res = append(res, d.due)
	}

	return res, nil
}
