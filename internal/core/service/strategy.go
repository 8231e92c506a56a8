package service

import (
	"context"
	"time"

	"github.com/minhpham/flashsale/internal/core/domain"
)

type Outcome string

const (
	OutcomeClaimed          Outcome = "claimed"
	OutcomeReserved         Outcome = "reserved"
	OutcomeAlreadyPurchased Outcome = "already_purchased"
	OutcomeSoldOut          Outcome = "sold_out"
)

// ClaimResult is the outcome of a buy attempt. Remaining is -1 when the
// active strategy does not track a direct counter.
type ClaimResult struct {
	Outcome      Outcome
	Remaining    int
	Reservation  *domain.Reservation
	PaymentToken string
}

// UserState reports what the caller currently holds, for client polling.
type UserState struct {
	HasPurchased   bool
	PurchaseTime   *time.Time
	HasReservation bool
}

// ClaimStrategy is the atomic primitive behind a sale. Both purchase paths
// answer the same question (may this user take a unit) and the strategy
// alone decides it; the orchestrator never reads stock and writes separately.
type ClaimStrategy interface {
	// Claim attempts to assign a unit to the user: an immediate claim for
	// the instant path, a live reservation (fresh or idempotently replayed)
	// for the reservation path.
	Claim(ctx context.Context, sale *domain.SaleWindow, userID string) (ClaimResult, error)

	// Finalize completes a previously created reservation once the external
	// payment attempt succeeds. Instant sales return domain.ErrNotSupported.
	Finalize(ctx context.Context, sale *domain.SaleWindow, userID, paymentAttemptID string) error

	// Release abandons the user's live reservation. Instant sales return
	// domain.ErrNotSupported.
	Release(ctx context.Context, sale *domain.SaleWindow, userID string) error

	// Remaining reports units still available under this strategy.
	Remaining(ctx context.Context, sale *domain.SaleWindow) (int, error)

	// SoldOutIsFinal reports whether an exhausted count is permanent. The
	// instant counter only ever decreases, so zero is terminal there; on the
	// reservation path live holds can expire and free units again.
	SoldOutIsFinal() bool

	// UserState reports the caller's purchase and reservation state.
	UserState(ctx context.Context, sale *domain.SaleWindow, userID string) (UserState, error)
}
