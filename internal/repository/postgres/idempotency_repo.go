package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type idempotencyRepo struct{ pool *pgxpool.Pool }

func (r *idempotencyRepo) CheckAndReserve(ctx context.Context, provider, eventID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO idempotency_keys (provider, event_id)
VALUES ($1, $2)
ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *idempotencyRepo) Release(ctx context.Context, provider, eventID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE provider = $1 AND event_id = $2`,
		provider, eventID,
	)
	return err
}
