package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/core/domain"
)

type PurchaseStore interface {
	// CreatePurchase inserts a purchase record. Returns
	// domain.ErrAlreadyPurchased when the (user, item) uniqueness
	// constraint rejects the row.
	CreatePurchase(ctx context.Context, rec domain.PurchaseRecord) error

	// GetPurchase returns the user's record for the item, or nil.
	GetPurchase(ctx context.Context, userID, itemID string) (*domain.PurchaseRecord, error)

	// CountPurchases returns the number of completed purchases for the item.
	CountPurchases(ctx context.Context, itemID string) (int, error)
}

type ReservationStore interface {
	// CreateReservation admits a reservation with a single conditional
	// insert: the row is written only if purchases plus live reservations
	// are still below totalStock, and the live-reservation uniqueness
	// constraint rejects a second hold by the same user. Returns
	// domain.ErrSoldOut or domain.ErrReservationExists accordingly.
	CreateReservation(ctx context.Context, res domain.Reservation, totalStock int) error

	// LiveReservation returns the user's unexpired reserved reservation, or nil.
	LiveReservation(ctx context.Context, userID, itemID string, now time.Time) (*domain.Reservation, error)

	// ConfirmReservation atomically marks the live reservation confirmed and
	// creates the purchase record alongside it. A duplicate confirmation, or
	// a replay after the purchase already exists, reports success. Returns
	// domain.ErrNoLiveReservation when there is neither a live reservation
	// nor an existing purchase.
	ConfirmReservation(ctx context.Context, userID, itemID, paymentAttemptID string, price decimal.Decimal, now time.Time) error

	// CancelReservation releases the user's live reservation immediately.
	// Returns domain.ErrNoLiveReservation when none exists.
	CancelReservation(ctx context.Context, userID, itemID string, now time.Time) error

	// EffectiveSoldCount returns purchases plus live unexpired reservations.
	EffectiveSoldCount(ctx context.Context, itemID string, now time.Time) (int, error)

	// ExpireOverdue flips reserved rows past their expiry to expired and
	// returns how many were swept. Liveness checks do not depend on it.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// Reset deletes all purchases and reservations for the item. Test isolation only.
	Reset(ctx context.Context, itemID string) error
}
