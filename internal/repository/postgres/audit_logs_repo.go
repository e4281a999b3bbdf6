package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
)

type auditLogsRepo struct{ pool *pgxpool.Pool }

func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (transaction_id, action, details) VALUES ($1, $2, $3)`,
		l.TransactionID, l.Action, l.Details,
	)
	return err
}

func (r *auditLogsRepo) ListByTransaction(ctx context.Context, txID string) ([]models.AuditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, transaction_id, action, details, created_at
		   FROM audit_logs WHERE transaction_id = $1 ORDER BY created_at ASC`,
		txID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.TransactionID, &l.Action, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
