package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/minhpham/flashsale/internal/core/domain"
	"github.com/minhpham/flashsale/internal/port"
)

const DefaultReservationTTL = 10 * time.Minute

// ReserveStrategy is the slow path: a unit is soft-locked by a reservation
// with a TTL and only becomes a purchase when the external payment attempt
// linked to it succeeds. Admission and both uniqueness rules are enforced by
// the store's atomic primitives, never by read-then-write here.
type ReserveStrategy struct {
	purchases    port.PurchaseStore
	reservations port.ReservationStore
	payments     port.PaymentGateway
	clock        Clock
	logger       zerolog.Logger
	ttl          time.Duration
}

func NewReserveStrategy(
	purchases port.PurchaseStore,
	reservations port.ReservationStore,
	payments port.PaymentGateway,
	clock Clock,
	logger zerolog.Logger,
	ttl time.Duration,
) *ReserveStrategy {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &ReserveStrategy{
		purchases:    purchases,
		reservations: reservations,
		payments:     payments,
		clock:        clock,
		logger:       logger,
		ttl:          ttl,
	}
}

func (s *ReserveStrategy) Claim(ctx context.Context, sale *domain.SaleWindow, userID string) (ClaimResult, error) {
	now := s.clock.Now()

	existing, err := s.purchases.GetPurchase(ctx, userID, sale.ItemID)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("check purchase: %w", err)
	}
	if existing != nil {
		return ClaimResult{Outcome: OutcomeAlreadyPurchased, Remaining: -1}, nil
	}

	if live, err := s.reservations.LiveReservation(ctx, userID, sale.ItemID, now); err != nil {
		return ClaimResult{}, fmt.Errorf("check reservation: %w", err)
	} else if live != nil {
		// Idempotent replay: return the hold the caller already owns, with
		// the token it needs to resume payment.
		return ClaimResult{Outcome: OutcomeReserved, Remaining: -1, Reservation: live, PaymentToken: live.PaymentToken}, nil
	}

	attempt, err := s.payments.CreateAttempt(ctx, userID, sale.ItemID, sale.Price)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("create payment attempt: %w", err)
	}

	res := domain.Reservation{
		ID:               uuid.NewString(),
		UserID:           userID,
		ItemID:           sale.ItemID,
		Status:           domain.ReservationStatusReserved,
		PaymentAttemptID: attempt.AttemptID,
		PaymentToken:     attempt.ClientToken,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}

	err = s.reservations.CreateReservation(ctx, res, sale.TotalStock)
	switch {
	case errors.Is(err, domain.ErrReservationExists):
		// Lost a race against our own retry; hand back the winner's row and
		// void the attempt this loser created.
		s.voidAttempt(ctx, attempt.AttemptID)
		live, err := s.reservations.LiveReservation(ctx, userID, sale.ItemID, now)
		if err != nil {
			return ClaimResult{}, fmt.Errorf("check reservation: %w", err)
		}
		if live == nil {
			return ClaimResult{Outcome: OutcomeSoldOut, Remaining: 0}, nil
		}
		return ClaimResult{Outcome: OutcomeReserved, Remaining: -1, Reservation: live, PaymentToken: live.PaymentToken}, nil
	case errors.Is(err, domain.ErrSoldOut):
		s.voidAttempt(ctx, attempt.AttemptID)
		return ClaimResult{Outcome: OutcomeSoldOut, Remaining: 0}, nil
	case err != nil:
		return ClaimResult{}, fmt.Errorf("create reservation: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("item_id", sale.ItemID).
		Str("reservation_id", res.ID).
		Time("expires_at", res.ExpiresAt).
		Msg("reservation created")

	return ClaimResult{
		Outcome:      OutcomeReserved,
		Remaining:    -1,
		Reservation:  &res,
		PaymentToken: attempt.ClientToken,
	}, nil
}

func (s *ReserveStrategy) voidAttempt(ctx context.Context, attemptID string) {
	if err := s.payments.VoidAttempt(ctx, attemptID); err != nil {
		s.logger.Warn().Err(err).Str("payment_attempt_id", attemptID).Msg("failed to void payment attempt")
	}
}

func (s *ReserveStrategy) SoldOutIsFinal() bool {
	return false
}

func (s *ReserveStrategy) Finalize(ctx context.Context, sale *domain.SaleWindow, userID, paymentAttemptID string) error {
	now := s.clock.Now()

	err := s.reservations.ConfirmReservation(ctx, userID, sale.ItemID, paymentAttemptID, sale.Price, now)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("item_id", sale.ItemID).
		Str("payment_attempt_id", paymentAttemptID).
		Msg("reservation confirmed")
	return nil
}

func (s *ReserveStrategy) Release(ctx context.Context, sale *domain.SaleWindow, userID string) error {
	return s.reservations.CancelReservation(ctx, userID, sale.ItemID, s.clock.Now())
}

func (s *ReserveStrategy) Remaining(ctx context.Context, sale *domain.SaleWindow) (int, error) {
	sold, err := s.reservations.EffectiveSoldCount(ctx, sale.ItemID, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("count effective sold: %w", err)
	}
	remaining := sale.TotalStock - sold
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *ReserveStrategy) UserState(ctx context.Context, sale *domain.SaleWindow, userID string) (UserState, error) {
	rec, err := s.purchases.GetPurchase(ctx, userID, sale.ItemID)
	if err != nil {
		return UserState{}, fmt.Errorf("check purchase: %w", err)
	}

	state := UserState{HasPurchased: rec != nil}
	if rec != nil {
		t := rec.PurchasedAt
		state.PurchaseTime = &t
	}

	live, err := s.reservations.LiveReservation(ctx, userID, sale.ItemID, s.clock.Now())
	if err != nil {
		return UserState{}, fmt.Errorf("check reservation: %w", err)
	}
	state.HasReservation = live != nil
	return state, nil
}
