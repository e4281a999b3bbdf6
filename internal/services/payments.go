package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/gateway"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/metrics"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/notify"
	repo "github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/worker"
)

var ErrInvalidInput = errors.New("invalid input")

// PaymentService coordinates the gateway, the ledger and the
// idempotency guard. The ledger owns every transaction; this service
// never caches one.
type PaymentService struct {
	txns     repo.Transactions
	idem     repo.Idempotency
	audit    repo.AuditLogs
	gws      *gateway.Registry
	notifier notify.Notifier
	wp       *worker.Pool
	currency string
	log      *slog.Logger
}

func NewPaymentService(
	txns repo.Transactions,
	idem repo.Idempotency,
	audit repo.AuditLogs,
	gws *gateway.Registry,
	notifier notify.Notifier,
	wp *worker.Pool,
	currency string,
	log *slog.Logger,
) *PaymentService {
	return &PaymentService{
		txns: txns, idem: idem, audit: audit, gws: gws,
		notifier: notifier, wp: wp, currency: currency, log: log,
	}
}

type InitiateRequest struct {
	Kind           models.TransactionKind
	Amount         int64
	PayerID        string
	PayerEmail     string
	PayeeID        string
	PropertyID     string
	Provider       string
	IdempotencyKey string
}

type InitiateResult struct {
	Transaction models.Transaction
	RedirectURL string
}

// Initiate creates the ledger record, opens a charge at the gateway and
// attaches the provider reference. On GatewayUnavailable the record is
// left in created so the caller can retry with the same idempotency
// key; on GatewayRejected it fails immediately.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if !req.Kind.Valid() {
		return InitiateResult{}, fmt.Errorf("%w: kind %q", ErrInvalidInput, req.Kind)
	}
	if req.Amount <= 0 {
		return InitiateResult{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	if req.PayerID == "" || req.PayeeID == "" || req.PropertyID == "" {
		return InitiateResult{}, fmt.Errorf("%w: payer, payee and property are required", ErrInvalidInput)
	}
	adapter, err := s.gws.Get(req.Provider)
	if err != nil {
		return InitiateResult{}, err
	}

	tx, err := s.txns.Create(ctx, models.Transaction{
		Kind:       req.Kind,
		Amount:     req.Amount,
		PayerID:    req.PayerID,
		PayeeID:    req.PayeeID,
		PropertyID: req.PropertyID,
		Provider:   req.Provider,
		State:      models.StateCreated,
	})
	if err != nil {
		return InitiateResult{}, err
	}
	s.record(ctx, tx.ID, "created", map[string]any{
		"kind": string(req.Kind), "amount": req.Amount, "provider": req.Provider,
	})

	res, err := adapter.InitiateCharge(ctx, gateway.ChargeRequest{
		Amount:        req.Amount,
		Currency:      s.currency,
		Reference:     newReference(req.PayerID, req.IdempotencyKey, tx.ID),
		CustomerEmail: req.PayerEmail,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayRejected) {
			failed, _, aerr := s.txns.ApplyEvent(ctx, tx.ID, models.StateFailed, "initiate:rejected:"+tx.ID)
			if aerr == nil {
				tx = failed
				metrics.Transitions.WithLabelValues(string(models.StateFailed)).Inc()
			}
			s.record(ctx, tx.ID, "gateway_rejected", map[string]any{"error": err.Error()})
			return InitiateResult{Transaction: tx}, err
		}
		// transient: stays created, retriable by caller or the sweep
		s.record(ctx, tx.ID, "gateway_unavailable", map[string]any{"error": err.Error()})
		return InitiateResult{Transaction: tx}, err
	}

	attached, err := s.txns.AttachProviderReference(ctx, tx.ID, res.ProviderReference)
	if errors.Is(err, repo.ErrConflict) {
		// idempotent retry: the charge already belongs to an earlier
		// transaction; hand that one back and retire the duplicate row
		existing, gerr := s.txns.GetByProviderReference(ctx, req.Provider, res.ProviderReference)
		if gerr != nil {
			return InitiateResult{}, err
		}
		// only join a charge the caller actually opened; anything else
		// is a genuine reference collision
		if existing.PayerID != req.PayerID || existing.Amount != req.Amount || existing.Kind != req.Kind {
			s.log.Warn("reference conflict on initiate",
				"transaction", tx.ID, "existing", existing.ID, "reference", res.ProviderReference)
			return InitiateResult{}, err
		}
		_, _, _ = s.txns.ApplyEvent(ctx, tx.ID, models.StateExpired, "initiate:duplicate:"+tx.ID)
		s.record(ctx, existing.ID, "initiate_retry_joined", map[string]any{"duplicate_of": tx.ID})
		return InitiateResult{Transaction: existing, RedirectURL: res.RedirectURL}, nil
	}
	if err != nil {
		return InitiateResult{}, err
	}
	metrics.PaymentsInitiated.WithLabelValues(req.Provider, string(req.Kind)).Inc()
	metrics.Transitions.WithLabelValues(string(models.StatePending)).Inc()
	s.record(ctx, attached.ID, "reference_attached", map[string]any{"reference": res.ProviderReference})
	return InitiateResult{Transaction: attached, RedirectURL: res.RedirectURL}, nil
}

// WebhookOutcome labels what a delivery did, for metrics and the
// handler's response body.
type WebhookOutcome string

const (
	OutcomeApplied   WebhookOutcome = "applied"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeStale     WebhookOutcome = "stale" // terminal already, or out-of-order event
)

// HandleWebhook verifies and applies one gateway notification. Any nil
// error must be acknowledged with a 2xx, including duplicates and
// stale events, or the provider will retry forever.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider string, payload []byte, signatureHeader string) (WebhookOutcome, error) {
	adapter, err := s.gws.Get(provider)
	if err != nil {
		return "", err
	}
	ev, err := adapter.ParseWebhook(payload, signatureHeader)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidSignature):
			metrics.WebhookEvents.WithLabelValues(provider, "invalid_signature").Inc()
		case errors.Is(err, gateway.ErrMalformed):
			metrics.WebhookEvents.WithLabelValues(provider, "malformed").Inc()
		}
		return "", err
	}

	tx, err := s.txns.GetByProviderReference(ctx, provider, ev.ProviderReference)
	if err != nil {
		return "", err
	}
	outcome, err := s.applyOutcome(ctx, tx, ev.Status, ev.EventID, "webhook")
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(provider, "error").Inc()
		return "", err
	}
	metrics.WebhookEvents.WithLabelValues(provider, string(outcome)).Inc()
	return outcome, nil
}

// applyOutcome is the single write path for provider-reported results,
// shared by webhooks and the reconciliation sweep. The idempotency
// guard is reserved before the ledger is touched and released again if
// the ledger mutation fails with a storage error.
func (s *PaymentService) applyOutcome(ctx context.Context, tx models.Transaction, status gateway.Status, eventID, source string) (WebhookOutcome, error) {
	if tx.State.Terminal() {
		return OutcomeStale, nil
	}
	var newState models.TransactionState
	switch status {
	case gateway.StatusSuccess:
		newState = models.StateSucceeded
	case gateway.StatusFailed:
		newState = models.StateFailed
	default:
		newState = models.StateReconciling
	}

	firstTime, err := s.idem.CheckAndReserve(ctx, tx.Provider, eventID)
	if err != nil {
		return "", err
	}
	if !firstTime {
		return OutcomeDuplicate, nil
	}

	updated, applied, err := s.txns.ApplyEvent(ctx, tx.ID, newState, eventID)
	if err != nil {
		if errors.Is(err, repo.ErrIllegalTransition) {
			// out-of-order or contradictory event: log, discard, ack
			s.log.Warn("discarding illegal transition",
				"transaction", tx.ID, "from", updated.State, "to", newState,
				"event", eventID, "source", source)
			s.record(ctx, tx.ID, "event_discarded", map[string]any{
				"event": eventID, "target": string(newState),
			})
			return OutcomeStale, nil
		}
		// storage failure: free the reservation so a retry can land
		if rerr := s.idem.Release(ctx, tx.Provider, eventID); rerr != nil {
			s.log.Error("idempotency release failed", "transaction", tx.ID, "event", eventID, "err", rerr)
		}
		return "", err
	}
	if !applied {
		return OutcomeStale, nil
	}

	metrics.Transitions.WithLabelValues(string(newState)).Inc()
	s.record(ctx, updated.ID, "state_change", map[string]any{
		"from": string(tx.State), "to": string(newState), "event": eventID, "source": source,
	})
	if newState == models.StateSucceeded {
		s.fireSucceeded(updated)
	}
	return OutcomeApplied, nil
}

// fireSucceeded dispatches the side effect off the request path. It is
// reached only by the one call that won the transition into succeeded,
// so it runs at most once per transaction.
func (s *PaymentService) fireSucceeded(tx models.Transaction) {
	s.wp.Submit(func() {
		ctx := context.Background()
		if err := s.notifier.PaymentSucceeded(ctx, tx); err != nil {
			s.log.Error("payment succeeded notification failed",
				"transaction", tx.ID, "property", tx.PropertyID, "err", err)
		}
	})
}

func (s *PaymentService) Get(ctx context.Context, id string) (models.Transaction, error) {
	return s.txns.Get(ctx, id)
}

func (s *PaymentService) ListByPayer(ctx context.Context, payerID string, limit, offset int) ([]models.Transaction, error) {
	return s.txns.ListByPayer(ctx, payerID, limit, offset)
}

func (s *PaymentService) ListByPayee(ctx context.Context, payeeID string, limit, offset int) ([]models.Transaction, error) {
	return s.txns.ListByPayee(ctx, payeeID, limit, offset)
}

func (s *PaymentService) History(ctx context.Context, txID string) ([]models.AuditLog, error) {
	if _, err := s.txns.Get(ctx, txID); err != nil {
		return nil, err
	}
	return s.audit.ListByTransaction(ctx, txID)
}

func (s *PaymentService) record(ctx context.Context, txID, action string, details map[string]any) {
	if err := s.audit.Create(ctx, models.AuditLog{
		TransactionID: txID,
		Action:        action,
		Details:       details,
	}); err != nil {
		s.log.Error("audit write failed", "transaction", txID, "action", action, "err", err)
	}
}

// newReference builds the gateway reference. With an idempotency key it
// is deterministic, so a retried initiate reuses the same charge; the
// gateway then reports the original instead of opening a second one.
// The hash is scoped by payer so one caller's key can never collide
// with another caller's charge.
func newReference(payerID, idemKey, txID string) string {
	if idemKey != "" {
		sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte("initiate:"+payerID+":"+idemKey))
		return "PAY-" + strings.ToUpper(strings.ReplaceAll(sum.String(), "-", "")[:12])
	}
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(txID, "-", "")[:12])
}
