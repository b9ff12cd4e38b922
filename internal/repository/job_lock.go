package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TryAcquireJobLock захватывает межпроцессную блокировку задачи до now+ttl.
// Просроченная блокировка другого держателя перехватывается.
func (r *PostgresRepository) TryAcquireJobLock(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	var got string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO job_locks (name, holder, locked_until) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, locked_until = EXCLUDED.locked_until
		 WHERE job_locks.locked_until < $4 OR job_locks.holder = EXCLUDED.holder
		 RETURNING holder`,
		name, holder, now.Add(ttl), now,
	).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("acquire job lock: %w", err)
	}

	return got == holder, nil
}

// ReleaseJobLock снимает блокировку, если её держит holder.
func (r *PostgresRepository) ReleaseJobLock(ctx context.Context, name, holder string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM job_locks WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return fmt.Errorf("release job lock: %w", err)
	}
	return nil
}
