package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
	repo "github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository"
)

const txColumns = `id, kind, amount, payer_id, payee_id, property_id, provider,
	COALESCE(provider_reference, ''), state, COALESCE(last_event_id, ''), created_at, updated_at`

type transactionsRepo struct{ pool *pgxpool.Pool }

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.State == "" {
		tx.State = models.StateCreated
	}
	err := r.pool.QueryRow(ctx, `
INSERT INTO transactions (id, kind, amount, payer_id, payee_id, property_id, provider, state)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+txColumns,
		tx.ID, tx.Kind, tx.Amount, tx.PayerID, tx.PayeeID, tx.PropertyID, tx.Provider, tx.State,
	).Scan(scanTargets(&tx)...)
	return tx, err
}

func (r *transactionsRepo) AttachProviderReference(ctx context.Context, id, ref string) (models.Transaction, error) {
	var tx models.Transaction
	err := r.pool.QueryRow(ctx, `
UPDATE transactions
   SET provider_reference = $2, state = $3, updated_at = now()
 WHERE id = $1 AND state = $4
RETURNING `+txColumns,
		id, ref, models.StatePending, models.StateCreated,
	).Scan(scanTargets(&tx)...)
	if err == nil {
		return tx, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation on provider_reference
		return models.Transaction{}, repo.ErrConflict
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// not in created: already attached (same ref is fine) or gone
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return models.Transaction{}, gerr
		}
		if cur.ProviderReference == ref {
			return cur, nil
		}
		return models.Transaction{}, repo.ErrConflict
	}
	return models.Transaction{}, err
}

func (r *transactionsRepo) ApplyEvent(ctx context.Context, id string, newState models.TransactionState, eventID string) (models.Transaction, bool, error) {
	// CAS loop: losers of a concurrent update re-read and re-decide.
	for attempt := 0; attempt < 3; attempt++ {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return models.Transaction{}, false, err
		}
		if cur.State.Terminal() || cur.LastEventID == eventID || cur.State == newState {
			return cur, false, nil
		}
		if !models.CanTransition(cur.State, newState) {
			return cur, false, repo.ErrIllegalTransition
		}
		var tx models.Transaction
		err = r.pool.QueryRow(ctx, `
UPDATE transactions
   SET state = $3, last_event_id = $4, updated_at = now()
 WHERE id = $1 AND state = $2
RETURNING `+txColumns,
			id, cur.State, newState, eventID,
		).Scan(scanTargets(&tx)...)
		if err == nil {
			return tx, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, false, err
		}
		// lost the race, go around
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, false, err
	}
	return cur, false, repo.ErrIllegalTransition
}

func (r *transactionsRepo) Get(ctx context.Context, id string) (models.Transaction, error) {
	var tx models.Transaction
	err := r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id,
	).Scan(scanTargets(&tx)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) GetByProviderReference(ctx context.Context, provider, ref string) (models.Transaction, error) {
	var tx models.Transaction
	err := r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE provider = $1 AND provider_reference = $2`,
		provider, ref,
	).Scan(scanTargets(&tx)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) ListByPayer(ctx context.Context, payerID string, limit, offset int) ([]models.Transaction, error) {
	return r.list(ctx, `payer_id = $1`, payerID, limit, offset)
}

func (r *transactionsRepo) ListByPayee(ctx context.Context, payeeID string, limit, offset int) ([]models.Transaction, error) {
	return r.list(ctx, `payee_id = $1`, payeeID, limit, offset)
}

func (r *transactionsRepo) list(ctx context.Context, where, arg string, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE `+where+`
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		arg, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *transactionsRepo) ListUnsettled(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txColumns+` FROM transactions
		  WHERE state = ANY($1) AND updated_at < $2
		  ORDER BY updated_at ASC LIMIT $3`,
		[]string{string(models.StateCreated), string(models.StatePending), string(models.StateReconciling)},
		updatedBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func scanTargets(tx *models.Transaction) []any {
	return []any{
		&tx.ID, &tx.Kind, &tx.Amount, &tx.PayerID, &tx.PayeeID, &tx.PropertyID,
		&tx.Provider, &tx.ProviderReference, &tx.State, &tx.LastEventID,
		&tx.CreatedAt, &tx.UpdatedAt,
	}
}

func collect(rows pgx.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(scanTargets(&tx)...); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
