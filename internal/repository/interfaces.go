package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict: provider reference already attached to another transaction.
	ErrConflict = errors.New("conflict")
	// ErrIllegalTransition: event contradicts the recorded state. Logged
	// and discarded by callers, never surfaced to the provider.
	ErrIllegalTransition = errors.New("illegal state transition")
)

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)

	// AttachProviderReference moves created -> pending. ErrConflict if the
	// reference already belongs to a different transaction.
	AttachProviderReference(ctx context.Context, id, ref string) (models.Transaction, error)

	// ApplyEvent records a state transition. applied=false with a nil
	// error means the event was a no-op (terminal state reached earlier,
	// or the same event replayed). Concurrent calls for one transaction
	// serialize on a compare-and-swap over state; the loser re-reads and
	// either no-ops or reports ErrIllegalTransition.
	ApplyEvent(ctx context.Context, id string, newState models.TransactionState, eventID string) (tx models.Transaction, applied bool, err error)

	Get(ctx context.Context, id string) (models.Transaction, error)
	GetByProviderReference(ctx context.Context, provider, ref string) (models.Transaction, error)
	ListByPayer(ctx context.Context, payerID string, limit, offset int) ([]models.Transaction, error)
	ListByPayee(ctx context.Context, payeeID string, limit, offset int) ([]models.Transaction, error)

	// ListUnsettled returns created/pending/reconciling transactions whose
	// last update is older than the cutoff, oldest first.
	ListUnsettled(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Transaction, error)
}

// Idempotency is the duplicate-event guard. Reserve before mutating the
// ledger; release if the mutation fails so a retry can land.
type Idempotency interface {
	CheckAndReserve(ctx context.Context, provider, eventID string) (firstTime bool, err error)
	Release(ctx context.Context, provider, eventID string) error
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
	ListByTransaction(ctx context.Context, txID string) ([]models.AuditLog, error)
}
