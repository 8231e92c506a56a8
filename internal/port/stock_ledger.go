package port

import (
	"context"
	"time"

	"github.com/minhpham/flashsale/internal/core/domain"
)

type ClaimOutcome int

const (
	ClaimOK ClaimOutcome = iota
	ClaimAlreadyClaimed
	ClaimSoldOut
	ClaimNoSale
)

type StockLedger interface {
	// InitSale stores the sale window and the initial counter in one atomic
	// step so no reader ever observes a half-initialized sale.
	InitSale(ctx context.Context, sale domain.SaleWindow) error

	// Sale returns the configured sale window, or nil if none is initialized.
	Sale(ctx context.Context, itemID string) (*domain.SaleWindow, error)

	// TryClaim runs the indivisible claim procedure: duplicate check, stock
	// check, decrement plus claim record. Returns the outcome and, on
	// ClaimOK, the remaining stock after the decrement.
	TryClaim(ctx context.Context, itemID, userID string, now time.Time) (ClaimOutcome, int, error)

	// Remaining reads the current counter without mutating it.
	Remaining(ctx context.Context, itemID string) (int, error)

	// ClaimTime returns when the user claimed a unit, or nil if they have not.
	ClaimTime(ctx context.Context, itemID, userID string) (*time.Time, error)

	// Reset removes the sale, counter and claims. Test isolation only.
	Reset(ctx context.Context, itemID string) error
}
