package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/core/domain"
	"github.com/minhpham/flashsale/internal/port"
)

// fakeClock is a movable clock for window and TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now.UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockLedger is an in-memory StockLedger with the same atomicity as the
// Redis script: the whole claim procedure runs under one lock.
type mockLedger struct {
	mu     sync.Mutex
	sale   *domain.SaleWindow
	stock  int
	claims map[string]time.Time
}

func newMockLedger() *mockLedger {
	return &mockLedger{claims: make(map[string]time.Time)}
}

func (m *mockLedger) InitSale(ctx context.Context, sale domain.SaleWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := sale
	m.sale = &s
	m.stock = sale.TotalStock
	m.claims = make(map[string]time.Time)
	return nil
}

func (m *mockLedger) Sale(ctx context.Context, itemID string) (*domain.SaleWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sale == nil {
		return nil, nil
	}
	s := *m.sale
	return &s, nil
}

func (m *mockLedger) TryClaim(ctx context.Context, itemID, userID string, now time.Time) (port.ClaimOutcome, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sale == nil {
		return port.ClaimNoSale, 0, nil
	}
	if _, ok := m.claims[userID]; ok {
		return port.ClaimAlreadyClaimed, 0, nil
	}
	if m.stock <= 0 {
		return port.ClaimSoldOut, 0, nil
	}
	m.stock--
	m.claims[userID] = now
	return port.ClaimOK, m.stock, nil
}

func (m *mockLedger) Remaining(ctx context.Context, itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sale == nil {
		return 0, domain.ErrSaleNotFound
	}
	return m.stock, nil
}

func (m *mockLedger) ClaimTime(ctx context.Context, itemID, userID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.claims[userID]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *mockLedger) Reset(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sale = nil
	m.stock = 0
	m.claims = make(map[string]time.Time)
	return nil
}

// mockStore is an in-memory equivalent of the MySQL store: it backs both
// PurchaseStore and ReservationStore and enforces the two uniqueness rules
// and the conditional admission under a single lock.
type mockStore struct {
	mu           sync.Mutex
	purchases    map[string]domain.PurchaseRecord // keyed by userID
	reservations []domain.Reservation
}

func newMockStore() *mockStore {
	return &mockStore{purchases: make(map[string]domain.PurchaseRecord)}
}

func (m *mockStore) CreatePurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[rec.UserID]; ok {
		return domain.ErrAlreadyPurchased
	}
	m.purchases[rec.UserID] = rec
	return nil
}

func (m *mockStore) GetPurchase(ctx context.Context, userID, itemID string) (*domain.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.purchases[userID]; ok {
		r := rec
		return &r, nil
	}
	return nil, nil
}

func (m *mockStore) CountPurchases(ctx context.Context, itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.purchases), nil
}

func (m *mockStore) CreateReservation(ctx context.Context, res domain.Reservation, totalStock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.UserID == res.UserID && r.IsLive(res.CreatedAt) {
			return domain.ErrReservationExists
		}
	}
	if m.effectiveSoldLocked(res.CreatedAt) >= totalStock {
		return domain.ErrSoldOut
	}
	m.reservations = append(m.reservations, res)
	return nil
}

func (m *mockStore) LiveReservation(ctx context.Context, userID, itemID string, now time.Time) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.UserID == userID && r.IsLive(now) {
			res := r
			return &res, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ConfirmReservation(ctx context.Context, userID, itemID, paymentAttemptID string, price decimal.Decimal, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.reservations {
		if r.UserID == userID && r.IsLive(now) {
			if _, ok := m.purchases[userID]; !ok {
				m.purchases[userID] = domain.PurchaseRecord{
					UserID:      userID,
					ItemID:      itemID,
					Quantity:    1,
					PricePaid:   price,
					PurchasedAt: now,
				}
			}
			m.reservations[i].Status = domain.ReservationStatusConfirmed
			m.reservations[i].PaymentAttemptID = paymentAttemptID
			return nil
		}
	}

	if _, ok := m.purchases[userID]; ok {
		return nil
	}
	return domain.ErrNoLiveReservation
}

func (m *mockStore) CancelReservation(ctx context.Context, userID, itemID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.reservations {
		if r.UserID == userID && r.IsLive(now) {
			m.reservations[i].Status = domain.ReservationStatusCancelled
			return nil
		}
	}
	return domain.ErrNoLiveReservation
}

func (m *mockStore) EffectiveSoldCount(ctx context.Context, itemID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveSoldLocked(now), nil
}

func (m *mockStore) effectiveSoldLocked(now time.Time) int {
	count := len(m.purchases)
	for _, r := range m.reservations {
		if r.IsLive(now) {
			count++
		}
	}
	return count
}

func (m *mockStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept int64
	for i, r := range m.reservations {
		if r.Status == domain.ReservationStatusReserved && !r.ExpiresAt.After(now) {
			m.reservations[i].Status = domain.ReservationStatusExpired
			swept++
		}
	}
	return swept, nil
}

func (m *mockStore) Reset(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = make(map[string]domain.PurchaseRecord)
	m.reservations = nil
	return nil
}

// countingGateway records how many payment attempts were created and voided.
type countingGateway struct {
	mu       sync.Mutex
	attempts int
	voided   []string
}

func (g *countingGateway) CreateAttempt(ctx context.Context, userID, itemID string, amount decimal.Decimal) (port.PaymentAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	return port.PaymentAttempt{
		AttemptID:   userID + "-attempt",
		ClientToken: "tok-" + userID,
	}, nil
}

func (g *countingGateway) VoidAttempt(ctx context.Context, attemptID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voided = append(g.voided, attemptID)
	return nil
}

type noopPublisher struct{}

func (noopPublisher) PublishPurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	return nil
}
