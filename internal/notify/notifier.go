// Package notify carries the payment.succeeded side effect to the rest
// of the platform. Delivery is fire-and-forget: failures are logged by
// the caller and never block or roll back a ledger transition.
package notify

import (
	"context"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
)

type Notifier interface {
	PaymentSucceeded(ctx context.Context, tx models.Transaction) error
}

// Multi fans one notification out to several notifiers; the first
// error is returned after every notifier has been tried.
type Multi []Notifier

func (m Multi) PaymentSucceeded(ctx context.Context, tx models.Transaction) error {
	var first error
	for _, n := range m {
		if err := n.PaymentSucceeded(ctx, tx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
