package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/gateway"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/metrics"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
	repo "github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository"
)

// ErrReconciliationExhausted marks a transaction that stayed ambiguous
// past the settlement window. It is reported for operator attention;
// the transaction itself is forced to failed.
var ErrReconciliationExhausted = errors.New("reconciliation exhausted")

const sweepBatchSize = 500

// Reconciler drives every unsettled transaction to a terminal state
// even when webhooks are lost, by asking the gateway directly. Verify
// results flow through the same applyOutcome path as webhooks under a
// synthetic event id, so a sweep result and a late webhook for the
// same outcome cannot double-apply.
type Reconciler struct {
	payments *PaymentService
	txns     repo.Transactions
	gws      *gateway.Registry
	log      *slog.Logger

	grace            time.Duration
	settlementWindow time.Duration
	maxAttempts      int
	parallelism      int

	// stubbed in tests
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewReconciler(payments *PaymentService, txns repo.Transactions, gws *gateway.Registry, log *slog.Logger, grace, settlementWindow time.Duration, maxAttempts, parallelism int) *Reconciler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Reconciler{
		payments:         payments,
		txns:             txns,
		gws:              gws,
		log:              log,
		grace:            grace,
		settlementWindow: settlementWindow,
		maxAttempts:      maxAttempts,
		parallelism:      parallelism,
		now:              time.Now,
		sleep:            sleepCtx,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("reconciliation sweep failed", "err", err)
			}
		}
	}
}

// Sweep picks up every unsettled transaction quiet for longer than the
// grace period and reconciles them concurrently.
func (r *Reconciler) Sweep(ctx context.Context) error {
	metrics.ReconcileSweeps.Inc()
	candidates, err := r.txns.ListUnsettled(ctx, r.now().Add(-r.grace), sweepBatchSize)
	if err != nil {
		return err
	}
	metrics.ReconcileCandidates.Set(float64(len(candidates)))
	if len(candidates) == 0 {
		return nil
	}
	r.log.Info("reconciliation sweep", "candidates", len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, tx := range candidates {
		tx := tx
		g.Go(func() error {
			if _, err := r.ReconcileOne(gctx, tx); err != nil && !errors.Is(err, context.Canceled) {
				// one stuck transaction must not starve the rest
				r.log.Error("reconcile failed", "transaction", tx.ID, "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ReconcileByID is the synchronous on-demand variant behind the verify
// endpoint.
func (r *Reconciler) ReconcileByID(ctx context.Context, id string) (models.Transaction, error) {
	tx, err := r.txns.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	return r.ReconcileOne(ctx, tx)
}

func (r *Reconciler) ReconcileOne(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.State.Terminal() {
		return tx, nil
	}
	pastSettlement := r.now().Sub(tx.CreatedAt) > r.settlementWindow

	// never got a provider reference: nothing to verify against
	if tx.ProviderReference == "" {
		if pastSettlement {
			return r.expire(ctx, tx)
		}
		return tx, nil
	}

	adapter, err := r.gws.Get(tx.Provider)
	if err != nil {
		return tx, err
	}

	res, err := r.verifyWithBackoff(ctx, adapter, tx.ProviderReference)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		// the provider has no record of the charge
		if pastSettlement {
			return r.expire(ctx, tx)
		}
		return r.markAmbiguous(ctx, tx, "verify_not_found")
	case err != nil:
		// retry budget spent on an unreachable gateway: money-affecting
		// ambiguity gets flagged, never dropped
		updated, _ := r.markAmbiguous(ctx, tx, "gateway_unreachable")
		return updated, err
	}

	switch res.Status {
	case gateway.StatusSuccess, gateway.StatusFailed:
		outcome, aerr := r.payments.applyOutcome(ctx, tx, res.Status, syntheticEventID(tx.ProviderReference, res.Status), "reconcile")
		if aerr != nil {
			return tx, aerr
		}
		updated, gerr := r.txns.Get(ctx, tx.ID)
		if gerr != nil {
			return tx, gerr
		}
		if outcome == OutcomeApplied {
			r.log.Info("reconciled", "transaction", tx.ID, "state", updated.State)
		}
		return updated, nil
	default:
		// still ambiguous at the provider
		if tx.State == models.StateReconciling && pastSettlement {
			return r.exhaust(ctx, tx)
		}
		return r.markAmbiguous(ctx, tx, "verify_ambiguous")
	}
}

func (r *Reconciler) verifyWithBackoff(ctx context.Context, adapter gateway.Adapter, ref string) (gateway.VerifyResult, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, backoff); err != nil {
				return gateway.VerifyResult{}, err
			}
			backoff *= 2
		}
		res, err := adapter.VerifyCharge(ctx, ref)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, gateway.ErrGatewayUnavailable) {
			return gateway.VerifyResult{}, err
		}
		lastErr = err
	}
	return gateway.VerifyResult{}, lastErr
}

func (r *Reconciler) expire(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	updated, applied, err := r.txns.ApplyEvent(ctx, tx.ID, models.StateExpired, "expire:"+tx.ID)
	if err != nil {
		if errors.Is(err, repo.ErrIllegalTransition) {
			return updated, nil
		}
		return tx, err
	}
	if applied {
		metrics.Transitions.WithLabelValues(string(models.StateExpired)).Inc()
		r.payments.record(ctx, tx.ID, "expired", map[string]any{"after": r.settlementWindow.String()})
		r.log.Info("transaction expired", "transaction", tx.ID)
	}
	return updated, nil
}

// markAmbiguous parks a pending transaction in reconciling so operators
// can see it; a transaction already reconciling just stays there.
func (r *Reconciler) markAmbiguous(ctx context.Context, tx models.Transaction, reason string) (models.Transaction, error) {
	if tx.State == models.StateReconciling {
		return tx, nil
	}
	updated, applied, err := r.txns.ApplyEvent(ctx, tx.ID, models.StateReconciling, "reconcile:ambiguous:"+tx.ID)
	if err != nil {
		if errors.Is(err, repo.ErrIllegalTransition) {
			return updated, nil
		}
		return tx, err
	}
	if applied {
		metrics.Transitions.WithLabelValues(string(models.StateReconciling)).Inc()
		r.payments.record(ctx, tx.ID, "marked_reconciling", map[string]any{"reason": reason})
		r.log.Warn("transaction needs reconciliation", "transaction", tx.ID, "reason", reason)
	}
	return updated, nil
}

// exhaust gives up on a transaction that stayed ambiguous past the
// settlement window: forced to failed, loudly reported.
func (r *Reconciler) exhaust(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	updated, applied, err := r.txns.ApplyEvent(ctx, tx.ID, models.StateFailed, "reconcile:exhausted:"+tx.ID)
	if err != nil {
		if errors.Is(err, repo.ErrIllegalTransition) {
			return updated, nil
		}
		return tx, err
	}
	if applied {
		metrics.Transitions.WithLabelValues(string(models.StateFailed)).Inc()
		metrics.ReconcileExhausted.Inc()
		r.payments.record(ctx, tx.ID, "reconciliation_exhausted", map[string]any{
			"reference": tx.ProviderReference,
		})
		r.log.Error("reconciliation exhausted, operator attention required",
			"transaction", tx.ID, "reference", tx.ProviderReference,
			"err", ErrReconciliationExhausted)
	}
	return updated, nil
}

// syntheticEventID keys a verify result the way a webhook for the same
// outcome would be keyed, deduplicating the two delivery paths.
func syntheticEventID(ref string, status gateway.Status) string {
	return "verify:" + ref + ":" + string(status)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
