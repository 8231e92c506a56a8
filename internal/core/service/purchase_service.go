package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/core/domain"
	"github.com/minhpham/flashsale/internal/metrics"
	"github.com/minhpham/flashsale/internal/port"
)

// PurchaseService is the single entry point request handlers call. It owns
// no state: it gates on the sale window and delegates every stock decision
// to the configured strategy's atomic primitive, which is what prevents a
// check-then-act race between its read and its write.
type PurchaseService struct {
	ledger    port.StockLedger
	strategy  ClaimStrategy
	publisher port.PurchasePublisher
	clock     Clock
	logger    zerolog.Logger
	itemID    string
}

func NewPurchaseService(
	ledger port.StockLedger,
	strategy ClaimStrategy,
	publisher port.PurchasePublisher,
	clock Clock,
	logger zerolog.Logger,
	itemID string,
) *PurchaseService {
	return &PurchaseService{
		ledger:    ledger,
		strategy:  strategy,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		itemID:    itemID,
	}
}

type InitSaleInput struct {
	ProductName string
	TotalStock  int
	StartTime   time.Time
	EndTime     time.Time
	Price       decimal.Decimal
}

func (s *PurchaseService) InitSale(ctx context.Context, in InitSaleInput) (*domain.SaleWindow, error) {
	sale, err := domain.NewSaleWindow(s.itemID, in.ProductName, in.TotalStock, in.StartTime, in.EndTime, in.Price)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.InitSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("init sale: %w", err)
	}

	s.logger.Info().
		Str("item_id", sale.ItemID).
		Int("total_stock", sale.TotalStock).
		Time("start_time", sale.StartTime).
		Time("end_time", sale.EndTime).
		Msg("sale initialized")
	return &sale, nil
}

// StatusInfo carries both readings of the sale state: WindowStatus reflects
// only the time window, while SoldOut is the orthogonal stock fact.
// SoldOutFinal marks whether an exhausted count can ever recover.
type StatusInfo struct {
	Sale         domain.SaleWindow
	WindowStatus domain.SaleStatus
	Remaining    int
	SoldOut      bool
	SoldOutFinal bool
}

// Effective folds the stock fact into the window state. Sold-out takes
// precedence only when it is terminal; a sale held empty by live
// reservations stays in its window state because expiring holds can free
// units again.
func (i StatusInfo) Effective() domain.SaleStatus {
	if i.SoldOut && i.SoldOutFinal {
		return domain.SaleStatusSoldOut
	}
	return i.WindowStatus
}

func (s *PurchaseService) Status(ctx context.Context) (StatusInfo, error) {
	sale, err := s.sale(ctx)
	if err != nil {
		return StatusInfo{}, err
	}

	remaining, err := s.strategy.Remaining(ctx, sale)
	if err != nil {
		return StatusInfo{}, err
	}

	return StatusInfo{
		Sale:         *sale,
		WindowStatus: sale.WindowStatus(s.clock.Now()),
		Remaining:    remaining,
		SoldOut:      remaining <= 0,
		SoldOutFinal: s.strategy.SoldOutIsFinal(),
	}, nil
}

// Buy attempts to assign a unit to the user via the active strategy.
func (s *PurchaseService) Buy(ctx context.Context, userID string) (ClaimResult, error) {
	sale, err := s.sale(ctx)
	if err != nil {
		return ClaimResult{}, err
	}

	switch sale.WindowStatus(s.clock.Now()) {
	case domain.SaleStatusUpcoming:
		metrics.PurchaseAttempts.WithLabelValues("not_started").Inc()
		return ClaimResult{}, domain.ErrSaleNotStarted
	case domain.SaleStatusEnded:
		metrics.PurchaseAttempts.WithLabelValues("ended").Inc()
		return ClaimResult{}, domain.ErrSaleEnded
	}

	result, err := s.strategy.Claim(ctx, sale, userID)
	if err != nil {
		metrics.PurchaseAttempts.WithLabelValues("error").Inc()
		return ClaimResult{}, err
	}
	metrics.PurchaseAttempts.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

// Confirm finalizes the user's reservation after the payment collaborator
// reports success for the linked attempt.
func (s *PurchaseService) Confirm(ctx context.Context, userID, paymentAttemptID string) error {
	sale, err := s.sale(ctx)
	if err != nil {
		return err
	}

	if err := s.strategy.Finalize(ctx, sale, userID, paymentAttemptID); err != nil {
		if errors.Is(err, domain.ErrNoLiveReservation) {
			metrics.ReservationEvents.WithLabelValues("confirm_miss").Inc()
		}
		return err
	}
	metrics.ReservationEvents.WithLabelValues("confirmed").Inc()

	if rec, err := s.strategy.UserState(ctx, sale, userID); err == nil && rec.HasPurchased {
		s.publishPurchase(ctx, sale, userID, rec.PurchaseTime)
	}
	return nil
}

// CancelReservation abandons the user's live reservation, freeing the unit
// immediately instead of waiting for the TTL.
func (s *PurchaseService) CancelReservation(ctx context.Context, userID string) error {
	sale, err := s.sale(ctx)
	if err != nil {
		return err
	}
	if err := s.strategy.Release(ctx, sale, userID); err != nil {
		return err
	}
	metrics.ReservationEvents.WithLabelValues("cancelled").Inc()
	return nil
}

func (s *PurchaseService) UserState(ctx context.Context, userID string) (UserState, error) {
	sale, err := s.sale(ctx)
	if err != nil {
		return UserState{}, err
	}
	return s.strategy.UserState(ctx, sale, userID)
}

// Reset wipes the sale. Test isolation only.
func (s *PurchaseService) Reset(ctx context.Context) error {
	return s.ledger.Reset(ctx, s.itemID)
}

func (s *PurchaseService) sale(ctx context.Context) (*domain.SaleWindow, error) {
	sale, err := s.ledger.Sale(ctx, s.itemID)
	if err != nil {
		return nil, fmt.Errorf("load sale: %w", err)
	}
	if sale == nil {
		return nil, domain.ErrSaleNotFound
	}
	return sale, nil
}

func (s *PurchaseService) publishPurchase(ctx context.Context, sale *domain.SaleWindow, userID string, at *time.Time) {
	if s.publisher == nil {
		return
	}
	purchasedAt := s.clock.Now()
	if at != nil {
		purchasedAt = *at
	}
	rec := domain.PurchaseRecord{
		UserID:      userID,
		ItemID:      sale.ItemID,
		Quantity:    1,
		PricePaid:   sale.Price,
		PurchasedAt: purchasedAt,
	}
	if err := s.publisher.PublishPurchase(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to publish purchase event")
	}
}
