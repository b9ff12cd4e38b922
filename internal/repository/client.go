package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/cellrent/internal/model"
)

// UpsertClient сохраняет контакты клиента, на которые отправляются напоминания.
func (r *PostgresRepository) UpsertClient(ctx context.Context, c *model.Client) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO clients (id, name, email) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
		c.ID, c.Name, c.Email,
	)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}
