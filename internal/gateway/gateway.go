package gateway

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy shared by every adapter. Callers branch with errors.Is.
var (
	ErrGatewayUnavailable = errors.New("gateway unavailable")        // transient, retriable
	ErrGatewayRejected    = errors.New("gateway rejected charge")    // permanent
	ErrNotFound           = errors.New("gateway has no such charge") // verify on unknown reference
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrMalformed          = errors.New("malformed webhook payload")
	ErrUnknownProvider    = errors.New("unknown provider")
)

// Status is the provider-reported outcome of a charge, normalized
// across providers.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusUnknown covers in-flight and ambiguous provider answers
	// (abandoned, ongoing, queued...). The reconciler sorts these out.
	StatusUnknown Status = "unknown"
)

type ChargeRequest struct {
	Amount        int64 // minor units
	Currency      string
	Reference     string // our reference, doubles as the provider idempotency key
	CustomerEmail string
}

type ChargeResult struct {
	ProviderReference string
	RedirectURL       string
}

type VerifyResult struct {
	Status Status
	Amount int64
	PaidAt time.Time
}

// ParsedEvent is a webhook notification after signature verification
// and decoding.
type ParsedEvent struct {
	ProviderReference string
	Status            Status
	EventID           string
}

// Adapter is the uniform contract over payment providers.
// InitiateCharge must be safe to retry with the same Reference: a
// provider that honors idempotency keys is never charged twice.
// ParseWebhook must verify authenticity before trusting any field.
type Adapter interface {
	Name() string
	InitiateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	VerifyCharge(ctx context.Context, providerReference string) (VerifyResult, error)
	ParseWebhook(payload []byte, signatureHeader string) (ParsedEvent, error)
}

// Registry maps provider tags to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(provider string) (Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return a, nil
}

func (r *Registry) Known(provider string) bool {
	_, ok := r.adapters[provider]
	return ok
}
