package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/gateway"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
	repo "github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/worker"
)

// memTxns is an in-memory ledger with the same per-record serialization
// contract as the postgres repo.
type memTxns struct {
	mu   sync.Mutex
	byID map[string]models.Transaction

	applyErr error // injected storage failure for ApplyEvent
}

func newMemTxns() *memTxns {
	return &memTxns{byID: map[string]models.Transaction{}}
}

func (m *memTxns) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.State == "" {
		tx.State = models.StateCreated
	}
	now := time.Now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	m.byID[tx.ID] = tx
	return tx, nil
}

func (m *memTxns) AttachProviderReference(_ context.Context, id, ref string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if other.ID != id && other.Provider == m.byID[id].Provider && other.ProviderReference == ref {
			return models.Transaction{}, repo.ErrConflict
		}
	}
	tx, ok := m.byID[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	if tx.State != models.StateCreated {
		if tx.ProviderReference == ref {
			return tx, nil
		}
		return models.Transaction{}, repo.ErrConflict
	}
	tx.ProviderReference = ref
	tx.State = models.StatePending
	tx.UpdatedAt = time.Now()
	m.byID[id] = tx
	return tx, nil
}

func (m *memTxns) ApplyEvent(_ context.Context, id string, newState models.TransactionState, eventID string) (models.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return models.Transaction{}, false, m.applyErr
	}
	tx, ok := m.byID[id]
	if !ok {
		return models.Transaction{}, false, repo.ErrNotFound
	}
	if tx.State.Terminal() || tx.LastEventID == eventID || tx.State == newState {
		return tx, false, nil
	}
	if !models.CanTransition(tx.State, newState) {
		return tx, false, repo.ErrIllegalTransition
	}
	tx.State = newState
	tx.LastEventID = eventID
	tx.UpdatedAt = time.Now()
	m.byID[id] = tx
	return tx, true, nil
}

func (m *memTxns) Get(_ context.Context, id string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, nil
}

func (m *memTxns) GetByProviderReference(_ context.Context, provider, ref string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.byID {
		if tx.Provider == provider && tx.ProviderReference == ref {
			return tx, nil
		}
	}
	return models.Transaction{}, repo.ErrNotFound
}

func (m *memTxns) ListByPayer(_ context.Context, payerID string, limit, offset int) ([]models.Transaction, error) {
	return m.filter(func(tx models.Transaction) bool { return tx.PayerID == payerID }), nil
}

func (m *memTxns) ListByPayee(_ context.Context, payeeID string, limit, offset int) ([]models.Transaction, error) {
	return m.filter(func(tx models.Transaction) bool { return tx.PayeeID == payeeID }), nil
}

func (m *memTxns) ListUnsettled(_ context.Context, updatedBefore time.Time, limit int) ([]models.Transaction, error) {
	return m.filter(func(tx models.Transaction) bool {
		return !tx.State.Terminal() && tx.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (m *memTxns) filter(keep func(models.Transaction) bool) []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, tx := range m.byID {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// set overwrites a stored transaction, for test setup only.
func (m *memTxns) set(tx models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[tx.ID] = tx
}

type memIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdem() *memIdem { return &memIdem{seen: map[string]bool{}} }

func (m *memIdem) CheckAndReserve(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := provider + "|" + eventID
	if m.seen[k] {
		return false, nil
	}
	m.seen[k] = true
	return true, nil
}

func (m *memIdem) Release(_ context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, provider+"|"+eventID)
	return nil
}

func (m *memIdem) has(provider, eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[provider+"|"+eventID]
}

type memAudit struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (m *memAudit) Create(_ context.Context, l models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.CreatedAt = time.Now()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memAudit) ListByTransaction(_ context.Context, txID string) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, l := range m.logs {
		if l.TransactionID == txID {
			out = append(out, l)
		}
	}
	return out, nil
}

// fakeAdapter follows the func-field mock pattern.
type fakeAdapter struct {
	name         string
	InitiateFunc func(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error)
	VerifyFunc   func(ctx context.Context, ref string) (gateway.VerifyResult, error)
	ParseFunc    func(payload []byte, sig string) (gateway.ParsedEvent, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) InitiateCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	if f.InitiateFunc != nil {
		return f.InitiateFunc(ctx, req)
	}
	return gateway.ChargeResult{ProviderReference: req.Reference, RedirectURL: "https://pay.example/" + req.Reference}, nil
}

func (f *fakeAdapter) VerifyCharge(ctx context.Context, ref string) (gateway.VerifyResult, error) {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ctx, ref)
	}
	return gateway.VerifyResult{Status: gateway.StatusUnknown}, nil
}

func (f *fakeAdapter) ParseWebhook(payload []byte, sig string) (gateway.ParsedEvent, error) {
	if f.ParseFunc != nil {
		return f.ParseFunc(payload, sig)
	}
	return gateway.ParsedEvent{}, gateway.ErrMalformed
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []models.Transaction
}

func (f *fakeNotifier) PaymentSucceeded(_ context.Context, tx models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tx)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	txns     *memTxns
	idem     *memIdem
	audit    *memAudit
	adapter  *fakeAdapter
	notifier *fakeNotifier
	wp       *worker.Pool
	svc      *PaymentService
}

func newFixture(provider string) *fixture {
	f := &fixture{
		txns:     newMemTxns(),
		idem:     newMemIdem(),
		audit:    &memAudit{},
		adapter:  &fakeAdapter{name: provider},
		notifier: &fakeNotifier{},
		wp:       worker.NewPool(1),
	}
	f.svc = NewPaymentService(
		f.txns, f.idem, f.audit,
		gateway.NewRegistry(f.adapter),
		f.notifier, f.wp, "NGN",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

// drain waits for queued side effects. The pool cannot be reused after.
func (f *fixture) drain() { f.wp.Stop() }
