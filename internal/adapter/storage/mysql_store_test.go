package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/core/domain"
)

func getMySQLStore(t *testing.T) (*MySQLStore, *sql.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/flashsale?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	store := NewMySQLStore(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return store, db
}

func newTestReservation(userID, itemID string, now time.Time, ttl time.Duration) domain.Reservation {
	return domain.Reservation{
		ID:           uuid.NewString(),
		UserID:       userID,
		ItemID:       itemID,
		Status:       domain.ReservationStatusReserved,
		PaymentToken: "tok-" + userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

func TestCreatePurchase_UniquePerUser(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-purchase-test"
	defer store.Reset(ctx, itemID)

	rec := domain.PurchaseRecord{
		UserID:      "test-user",
		ItemID:      itemID,
		Quantity:    1,
		PricePaid:   decimal.RequireFromString("49.90"),
		OrderRef:    uuid.NewString(),
		PurchasedAt: time.Now().UTC(),
	}

	if err := store.CreatePurchase(ctx, rec); err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}

	err := store.CreatePurchase(ctx, rec)
	if !errors.Is(err, domain.ErrAlreadyPurchased) {
		t.Errorf("expected ErrAlreadyPurchased, got %v", err)
	}

	got, err := store.GetPurchase(ctx, "test-user", itemID)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected purchase record")
	}
	if !got.PricePaid.Equal(rec.PricePaid) {
		t.Errorf("expected price %s, got %s", rec.PricePaid, got.PricePaid)
	}

	count, _ := store.CountPurchases(ctx, itemID)
	if count != 1 {
		t.Errorf("expected 1 purchase, got %d", count)
	}
}

func TestCreateReservation_ConditionalAdmission(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-admission-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()
	totalStock := 2

	if err := store.CreateReservation(ctx, newTestReservation("user-1", itemID, now, 10*time.Minute), totalStock); err != nil {
		t.Fatalf("first reservation failed: %v", err)
	}
	if err := store.CreateReservation(ctx, newTestReservation("user-2", itemID, now, 10*time.Minute), totalStock); err != nil {
		t.Fatalf("second reservation failed: %v", err)
	}

	// Stock exhausted by the two live holds.
	err := store.CreateReservation(ctx, newTestReservation("user-3", itemID, now, 10*time.Minute), totalStock)
	if !errors.Is(err, domain.ErrSoldOut) {
		t.Errorf("expected ErrSoldOut, got %v", err)
	}

	sold, _ := store.EffectiveSoldCount(ctx, itemID, now)
	if sold != 2 {
		t.Errorf("expected effective sold 2, got %d", sold)
	}
}

func TestCreateReservation_OneLivePerUser(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-duplicate-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()

	if err := store.CreateReservation(ctx, newTestReservation("user-1", itemID, now, 10*time.Minute), 10); err != nil {
		t.Fatalf("first reservation failed: %v", err)
	}

	err := store.CreateReservation(ctx, newTestReservation("user-1", itemID, now, 10*time.Minute), 10)
	if !errors.Is(err, domain.ErrReservationExists) {
		t.Errorf("expected ErrReservationExists, got %v", err)
	}
}

func TestCreateReservation_ExpiredHoldFreesUnit(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-expiry-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()

	// A hold that is already past its TTL.
	expired := newTestReservation("user-1", itemID, now.Add(-20*time.Minute), 10*time.Minute)
	if err := store.CreateReservation(ctx, expired, 1); err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}

	if sold, _ := store.EffectiveSoldCount(ctx, itemID, now); sold != 0 {
		t.Errorf("expected expired hold not to count, got %d", sold)
	}

	// The freed unit admits a different user even before any sweep runs.
	if err := store.CreateReservation(ctx, newTestReservation("user-2", itemID, now, 10*time.Minute), 1); err != nil {
		t.Errorf("expected freed unit to be reservable, got %v", err)
	}
}

func TestCreateReservation_SameUserAfterExpiry(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-reexpiry-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()

	expired := newTestReservation("user-1", itemID, now.Add(-20*time.Minute), 10*time.Minute)
	if err := store.CreateReservation(ctx, expired, 1); err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}

	// The overdue row still occupies the live uniqueness slot until it is
	// released; CreateReservation must free it and admit the retry.
	if err := store.CreateReservation(ctx, newTestReservation("user-1", itemID, now, 10*time.Minute), 1); err != nil {
		t.Errorf("expected re-reservation after expiry to succeed, got %v", err)
	}

	live, err := store.LiveReservation(ctx, "user-1", itemID, now)
	if err != nil {
		t.Fatalf("LiveReservation failed: %v", err)
	}
	if live == nil {
		t.Fatal("expected a live reservation after retry")
	}
	if live.PaymentToken != "tok-user-1" {
		t.Errorf("expected payment token to round-trip, got %q", live.PaymentToken)
	}
}

func TestConfirmReservation_CreatesPurchase(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-confirm-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()
	price := decimal.RequireFromString("99.00")

	if err := store.CreateReservation(ctx, newTestReservation("user-1", itemID, now, 10*time.Minute), 5); err != nil {
		t.Fatalf("reservation failed: %v", err)
	}

	if err := store.ConfirmReservation(ctx, "user-1", itemID, "attempt-1", price, now); err != nil {
		t.Fatalf("ConfirmReservation failed: %v", err)
	}

	rec, err := store.GetPurchase(ctx, "user-1", itemID)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected purchase record after confirm")
	}

	// No live reservation remains.
	live, _ := store.LiveReservation(ctx, "user-1", itemID, now)
	if live != nil {
		t.Errorf("expected no live reservation, got %+v", live)
	}

	// Duplicate callback reports success and creates nothing new.
	if err := store.ConfirmReservation(ctx, "user-1", itemID, "attempt-1", price, now); err != nil {
		t.Errorf("duplicate confirm should succeed, got %v", err)
	}
	count, _ := store.CountPurchases(ctx, itemID)
	if count != 1 {
		t.Errorf("expected exactly 1 purchase, got %d", count)
	}
}

func TestConfirmReservation_ConcurrentCallbacks(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-confirm-race-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()

	if err := store.CreateReservation(ctx, newTestReservation("user-1", itemID, now, 10*time.Minute), 5); err != nil {
		t.Fatalf("reservation failed: %v", err)
	}

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.ConfirmReservation(ctx, "user-1", itemID, "attempt-1", decimal.Zero, now); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 5 {
		t.Errorf("expected all 5 callbacks to report success, got %d", successes.Load())
	}
	count, _ := store.CountPurchases(ctx, itemID)
	if count != 1 {
		t.Errorf("expected exactly 1 purchase, got %d", count)
	}
}

func TestConfirmReservation_NoLiveReservation(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-confirm-miss-test"
	defer store.Reset(ctx, itemID)

	err := store.ConfirmReservation(ctx, "user-1", itemID, "attempt-1", decimal.Zero, time.Now().UTC())
	if !errors.Is(err, domain.ErrNoLiveReservation) {
		t.Errorf("expected ErrNoLiveReservation, got %v", err)
	}
}

func TestCancelReservation(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-cancel-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()

	if err := store.CreateReservation(ctx, newTestReservation("user-1", itemID, now, 10*time.Minute), 1); err != nil {
		t.Fatalf("reservation failed: %v", err)
	}

	if err := store.CancelReservation(ctx, "user-1", itemID, now); err != nil {
		t.Fatalf("CancelReservation failed: %v", err)
	}

	// Cancelling frees the unit immediately.
	if err := store.CreateReservation(ctx, newTestReservation("user-2", itemID, now, 10*time.Minute), 1); err != nil {
		t.Errorf("expected freed unit to be reservable, got %v", err)
	}

	err := store.CancelReservation(ctx, "user-1", itemID, now)
	if !errors.Is(err, domain.ErrNoLiveReservation) {
		t.Errorf("expected ErrNoLiveReservation on second cancel, got %v", err)
	}
}

func TestCreateReservation_ConcurrentAdmission(t *testing.T) {
	store, db := getMySQLStore(t)
	defer db.Close()

	ctx := context.Background()
	itemID := "store-admission-race-test"
	defer store.Reset(ctx, itemID)

	now := time.Now().UTC()
	totalStock := 5
	attempts := 20

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			res := newTestReservation(fmt.Sprintf("race-user-%d", id), itemID, now, 10*time.Minute)
			if err := store.CreateReservation(ctx, res, totalStock); err == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if admitted.Load() != int32(totalStock) {
		t.Errorf("expected exactly %d admitted reservations, got %d", totalStock, admitted.Load())
	}

	sold, _ := store.EffectiveSoldCount(ctx, itemID, now)
	if sold != totalStock {
		t.Errorf("expected effective sold %d, got %d", totalStock, sold)
	}
}
