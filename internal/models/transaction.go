package models

import "time"

type TransactionKind string

const (
	KindRent    TransactionKind = "rent"
	KindSale    TransactionKind = "sale"
	KindUtility TransactionKind = "utility"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindRent, KindSale, KindUtility:
		return true
	}
	return false
}

type TransactionState string

const (
	StateCreated     TransactionState = "created"
	StatePending     TransactionState = "pending"
	StateSucceeded   TransactionState = "succeeded"
	StateFailed      TransactionState = "failed"
	StateReconciling TransactionState = "reconciling"
	StateExpired     TransactionState = "expired"
)

func (s TransactionState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateExpired:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move in the
// transaction lifecycle. Terminal states never move again.
func CanTransition(from, to TransactionState) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StateCreated:
		// failed covers gateway rejection at initiate time,
		// expired covers initiations that never got a reference
		return to == StatePending || to == StateFailed || to == StateExpired
	case StatePending:
		return to == StateSucceeded || to == StateFailed || to == StateExpired || to == StateReconciling
	case StateReconciling:
		return to == StateSucceeded || to == StateFailed
	}
	return false
}

type Transaction struct {
	ID                string           `json:"id"`
	Kind              TransactionKind  `json:"kind"`
	Amount            int64            `json:"amount"` // minor units, immutable after create
	PayerID           string           `json:"payer_id"`
	PayeeID           string           `json:"payee_id"`
	PropertyID        string           `json:"property_id"`
	Provider          string           `json:"provider"`
	ProviderReference string           `json:"provider_reference,omitempty"`
	State             TransactionState `json:"state"`
	LastEventID       string           `json:"last_event_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// PublicState hides reconciling from callers; externally a transaction
// under reconciliation is still just pending.
func (t Transaction) PublicState() TransactionState {
	if t.State == StateReconciling {
		return StatePending
	}
	return t.State
}

// PublicView is the API projection of a transaction (no provider internals).
type PublicView struct {
	ID         string           `json:"id"`
	Kind       TransactionKind  `json:"kind"`
	Amount     int64            `json:"amount"`
	PayerID    string           `json:"payer_id"`
	PayeeID    string           `json:"payee_id"`
	PropertyID string           `json:"property_id"`
	Provider   string           `json:"provider"`
	State      TransactionState `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (t Transaction) Public() PublicView {
	return PublicView{
		ID:         t.ID,
		Kind:       t.Kind,
		Amount:     t.Amount,
		PayerID:    t.PayerID,
		PayeeID:    t.PayeeID,
		PropertyID: t.PropertyID,
		Provider:   t.Provider,
		State:      t.PublicState(),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}
