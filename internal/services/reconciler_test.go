package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/gateway"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
)

func newTestReconciler(f *fixture, grace, window time.Duration, maxAttempts int) *Reconciler {
	r := NewReconciler(f.svc, f.txns, gateway.NewRegistry(f.adapter),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		grace, window, maxAttempts, 2)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

// pendingTx seeds a pending transaction whose last update is age old.
func pendingTx(f *fixture, id, ref string, age time.Duration) models.Transaction {
	tx := models.Transaction{
		ID: id, Kind: models.KindRent, Amount: 50000,
		PayerID: "payer-1", PayeeID: "payee-1", PropertyID: "prop-1",
		Provider: "paystack", ProviderReference: ref,
		State:     models.StatePending,
		CreatedAt: time.Now().Add(-age),
		UpdatedAt: time.Now().Add(-age),
	}
	f.txns.set(tx)
	return tx
}

func TestSweepResolvesLostWebhookFailure(t *testing.T) {
	f := newFixture("paystack")
	defer f.drain()
	tx := pendingTx(f, "tx-1", "REF1", time.Hour)

	f.adapter.VerifyFunc = func(_ context.Context, ref string) (gateway.VerifyResult, error) {
		if ref != "REF1" {
			t.Errorf("verify called with %q", ref)
		}
		return gateway.VerifyResult{Status: gateway.StatusFailed}, nil
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ := f.txns.Get(context.Background(), tx.ID)
	if got.State != models.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
}

func TestSweepSuccessSharesIdempotencyWithLateWebhook(t *testing.T) {
	f := newFixture("paystack")
	tx := pendingTx(f, "tx-1", "REF1", time.Hour)

	f.adapter.VerifyFunc = func(_ context.Context, _ string) (gateway.VerifyResult, error) {
		return gateway.VerifyResult{Status: gateway.StatusSuccess, Amount: 50000}, nil
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// the webhook the sweep beat finally arrives with the same outcome
	f.adapter.ParseFunc = webhookEvent("REF1", "E1", gateway.StatusSuccess)
	outcome, err := f.svc.HandleWebhook(context.Background(), "paystack", []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("late webhook: %v", err)
	}
	if outcome == OutcomeApplied {
		t.Error("late webhook re-applied an already reconciled outcome")
	}

	f.drain()
	got, _ := f.txns.Get(context.Background(), tx.ID)
	if got.State != models.StateSucceeded {
		t.Errorf("state = %s, want succeeded", got.State)
	}
	if n := f.notifier.count(); n != 1 {
		t.Errorf("side effect fired %d times, want exactly 1", n)
	}
}

func TestSweepSkipsRecentTransactions(t *testing.T) {
	f := newFixture("paystack")
	defer f.drain()
	tx := pendingTx(f, "tx-1", "REF1", time.Minute) // inside the grace period

	verifyCalled := false
	f.adapter.VerifyFunc = func(_ context.Context, _ string) (gateway.VerifyResult, error) {
		verifyCalled = true
		return gateway.VerifyResult{Status: gateway.StatusSuccess}, nil
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if verifyCalled {
		t.Error("verify called inside the grace period")
	}
	got, _ := f.txns.Get(context.Background(), tx.ID)
	if got.State != models.StatePending {
		t.Errorf("state = %s, want pending", got.State)
	}
}

func TestReconcileRetriesUnavailableThenApplies(t *testing.T) {
	f := newFixture("paystack")
	tx := pendingTx(f, "tx-1", "REF1", time.Hour)

	attempts := 0
	f.adapter.VerifyFunc = func(_ context.Context, _ string) (gateway.VerifyResult, error) {
		attempts++
		if attempts < 3 {
			return gateway.VerifyResult{}, gateway.ErrGatewayUnavailable
		}
		return gateway.VerifyResult{Status: gateway.StatusSuccess}, nil
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 5)

	got, err := r.ReconcileOne(context.Background(), tx)
	if err != nil {
		t.Fatalf("ReconcileOne: %v", err)
	}
	if attempts != 3 {
		t.Errorf("verify attempts = %d, want 3", attempts)
	}
	if got.State != models.StateSucceeded {
		t.Errorf("state = %s, want succeeded", got.State)
	}
	f.drain()
}

func TestReconcileBudgetExhaustedParksInReconciling(t *testing.T) {
	f := newFixture("paystack")
	defer f.drain()
	tx := pendingTx(f, "tx-1", "REF1", time.Hour)

	attempts := 0
	f.adapter.VerifyFunc = func(_ context.Context, _ string) (gateway.VerifyResult, error) {
		attempts++
		return gateway.VerifyResult{}, gateway.ErrGatewayUnavailable
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)

	got, err := r.ReconcileOne(context.Background(), tx)
	if !errors.Is(err, gateway.ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
	if attempts != 3 {
		t.Errorf("verify attempts = %d, want 3", attempts)
	}
	if got.State != models.StateReconciling {
		t.Errorf("state = %s, want reconciling (reported, not dropped)", got.State)
	}
}

func TestReconcileAmbiguousPastWindowFails(t *testing.T) {
	f := newFixture("paystack")
	defer f.drain()
	tx := pendingTx(f, "tx-1", "REF1", 48*time.Hour)
	tx.State = models.StateReconciling
	f.txns.set(tx)

	f.adapter.VerifyFunc = func(_ context.Context, _ string) (gateway.VerifyResult, error) {
		return gateway.VerifyResult{Status: gateway.StatusUnknown}, nil
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)

	got, err := r.ReconcileOne(context.Background(), tx)
	if err != nil {
		t.Fatalf("ReconcileOne: %v", err)
	}
	if got.State != models.StateFailed {
		t.Errorf("state = %s, want failed after exhausted ambiguity", got.State)
	}
}

func TestReconcileNotFound(t *testing.T) {
	f := newFixture("paystack")
	defer f.drain()
	f.adapter.VerifyFunc = func(_ context.Context, _ string) (gateway.VerifyResult, error) {
		return gateway.VerifyResult{}, gateway.ErrNotFound
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)
	ctx := context.Background()

	// recent: provider may not have settled yet, park for operators
	recent := pendingTx(f, "tx-recent", "REF-R", time.Hour)
	got, err := r.ReconcileOne(ctx, recent)
	if err != nil {
		t.Fatalf("ReconcileOne recent: %v", err)
	}
	if got.State != models.StateReconciling {
		t.Errorf("recent state = %s, want reconciling", got.State)
	}

	// past the settlement window: the charge never existed, expire it
	old := pendingTx(f, "tx-old", "REF-O", 48*time.Hour)
	got, err = r.ReconcileOne(ctx, old)
	if err != nil {
		t.Fatalf("ReconcileOne old: %v", err)
	}
	if got.State != models.StateExpired {
		t.Errorf("old state = %s, want expired", got.State)
	}
}

func TestReconcileNoReferenceExpiresAfterWindow(t *testing.T) {
	f := newFixture("paystack")
	defer f.drain()
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)
	ctx := context.Background()

	old := pendingTx(f, "tx-old", "", 48*time.Hour)
	old.State = models.StateCreated
	f.txns.set(old)

	got, err := r.ReconcileOne(ctx, old)
	if err != nil {
		t.Fatalf("ReconcileOne: %v", err)
	}
	if got.State != models.StateExpired {
		t.Errorf("state = %s, want expired", got.State)
	}

	recent := pendingTx(f, "tx-recent", "", time.Hour)
	recent.State = models.StateCreated
	f.txns.set(recent)

	got, err = r.ReconcileOne(ctx, recent)
	if err != nil {
		t.Fatalf("ReconcileOne recent: %v", err)
	}
	if got.State != models.StateCreated {
		t.Errorf("state = %s, recent created must be left alone", got.State)
	}
}

func TestReconcileByIDTerminalIsNoOp(t *testing.T) {
	f := newFixture("paystack")
	defer f.drain()
	tx := pendingTx(f, "tx-1", "REF1", time.Hour)
	tx.State = models.StateSucceeded
	f.txns.set(tx)

	verifyCalled := false
	f.adapter.VerifyFunc = func(_ context.Context, _ string) (gateway.VerifyResult, error) {
		verifyCalled = true
		return gateway.VerifyResult{}, nil
	}
	r := newTestReconciler(f, 15*time.Minute, 24*time.Hour, 3)

	got, err := r.ReconcileByID(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("ReconcileByID: %v", err)
	}
	if verifyCalled {
		t.Error("verify called for a terminal transaction")
	}
	if got.State != models.StateSucceeded {
		t.Errorf("state = %s", got.State)
	}
}
