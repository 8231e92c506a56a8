package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/minhpham/flashsale/internal/core/domain"
	"github.com/minhpham/flashsale/internal/port"
)

// InstantStrategy is the fast path: the ledger's single-step procedure
// decides the claim, and the durable purchase record is mirrored
// asynchronously through a buffered queue drained by persistence workers.
// The ledger claim is authoritative; a failed mirror write is retried, never
// rolled back, so the counter only ever decreases.
type InstantStrategy struct {
	ledger      port.StockLedger
	clock       Clock
	logger      zerolog.Logger
	recordQueue chan domain.PurchaseRecord
}

func NewInstantStrategy(ledger port.StockLedger, clock Clock, logger zerolog.Logger, queueSize int) *InstantStrategy {
	return &InstantStrategy{
		ledger:      ledger,
		clock:       clock,
		logger:      logger,
		recordQueue: make(chan domain.PurchaseRecord, queueSize),
	}
}

func (s *InstantStrategy) Claim(ctx context.Context, sale *domain.SaleWindow, userID string) (ClaimResult, error) {
	now := s.clock.Now()

	outcome, remaining, err := s.ledger.TryClaim(ctx, sale.ItemID, userID, now)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("try claim: %w", err)
	}

	switch outcome {
	case port.ClaimAlreadyClaimed:
		return ClaimResult{Outcome: OutcomeAlreadyPurchased, Remaining: -1}, nil
	case port.ClaimSoldOut:
		return ClaimResult{Outcome: OutcomeSoldOut, Remaining: 0}, nil
	case port.ClaimNoSale:
		return ClaimResult{}, domain.ErrSaleNotFound
	}

	s.recordQueue <- domain.PurchaseRecord{
		UserID:      userID,
		ItemID:      sale.ItemID,
		Quantity:    1,
		PricePaid:   sale.Price,
		PurchasedAt: now,
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("item_id", sale.ItemID).
		Int("remaining", remaining).
		Msg("claim granted")

	return ClaimResult{Outcome: OutcomeClaimed, Remaining: remaining}, nil
}

func (s *InstantStrategy) Finalize(ctx context.Context, sale *domain.SaleWindow, userID, paymentAttemptID string) error {
	return domain.ErrNotSupported
}

func (s *InstantStrategy) Release(ctx context.Context, sale *domain.SaleWindow, userID string) error {
	return domain.ErrNotSupported
}

func (s *InstantStrategy) Remaining(ctx context.Context, sale *domain.SaleWindow) (int, error) {
	return s.ledger.Remaining(ctx, sale.ItemID)
}

func (s *InstantStrategy) SoldOutIsFinal() bool {
	return true
}

func (s *InstantStrategy) UserState(ctx context.Context, sale *domain.SaleWindow, userID string) (UserState, error) {
	claimedAt, err := s.ledger.ClaimTime(ctx, sale.ItemID, userID)
	if err != nil {
		return UserState{}, fmt.Errorf("read claim: %w", err)
	}
	return UserState{
		HasPurchased: claimedAt != nil,
		PurchaseTime: claimedAt,
	}, nil
}

// Records exposes the queue of claims awaiting durable persistence.
func (s *InstantStrategy) Records() <-chan domain.PurchaseRecord {
	return s.recordQueue
}

// Close stops accepting claims for persistence. Call after the HTTP surface
// has shut down.
func (s *InstantStrategy) Close() {
	close(s.recordQueue)
}
