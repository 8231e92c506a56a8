package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentAttempt is the collaborator-issued handle for a pending payment.
// The gateway later reports success or failure for AttemptID on a separate
// request; this engine only consumes the identifier and that signal.
type PaymentAttempt struct {
	AttemptID   string
	ClientToken string
}

type PaymentGateway interface {
	// CreateAttempt registers a payment attempt for the given amount and
	// returns a token the buyer's client uses to complete payment.
	CreateAttempt(ctx context.Context, userID, itemID string, amount decimal.Decimal) (PaymentAttempt, error)

	// VoidAttempt tells the collaborator an attempt will never be completed,
	// so it does not dangle after the reservation it backed was refused.
	VoidAttempt(ctx context.Context, attemptID string) error
}
