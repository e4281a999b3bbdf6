package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository"
)

type Repositories struct {
	Transactions repo.Transactions
	Idempotency  repo.Idempotency
	AuditLogs    repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions: &transactionsRepo{pool},
		Idempotency:  &idempotencyRepo{pool},
		AuditLogs:    &auditLogsRepo{pool},
	}
}
