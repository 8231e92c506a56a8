package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/core/domain"
)

const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// MySQLStore persists purchases and reservations. Both "one purchase per
// user" and "one live reservation per user" are uniqueness constraints here,
// not application checks: purchases carries UNIQUE (user_id, item_id), and
// reservations carries UNIQUE (user_id, item_id, live) where live is 1 only
// while the row is in state reserved and NULL otherwise.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (m *MySQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS purchases (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			quantity INT NOT NULL DEFAULT 1,
			price_paid DECIMAL(12,2) NOT NULL DEFAULT 0,
			order_ref VARCHAR(64) NOT NULL DEFAULT '',
			purchased_at DATETIME(3) NOT NULL,
			UNIQUE KEY uq_user_item (user_id, item_id),
			KEY idx_item (item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			live TINYINT NULL,
			payment_attempt_id VARCHAR(64) NOT NULL DEFAULT '',
			payment_token VARCHAR(128) NOT NULL DEFAULT '',
			created_at DATETIME(3) NOT NULL,
			expires_at DATETIME(3) NOT NULL,
			UNIQUE KEY uq_live_reservation (user_id, item_id, live),
			KEY idx_item_live (item_id, status, expires_at)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLStore) CreatePurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO purchases (user_id, item_id, quantity, price_paid, order_ref, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.ItemID, rec.Quantity, rec.PricePaid, rec.OrderRef, rec.PurchasedAt.UTC(),
	)
	if isDuplicateEntry(err) {
		return domain.ErrAlreadyPurchased
	}
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (m *MySQLStore) GetPurchase(ctx context.Context, userID, itemID string) (*domain.PurchaseRecord, error) {
	var rec domain.PurchaseRecord
	err := m.db.QueryRowContext(ctx, `
		SELECT user_id, item_id, quantity, price_paid, order_ref, purchased_at
		FROM purchases WHERE user_id = ? AND item_id = ?`, userID, itemID,
	).Scan(&rec.UserID, &rec.ItemID, &rec.Quantity, &rec.PricePaid, &rec.OrderRef, &rec.PurchasedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query purchase: %w", err)
	}
	return &rec, nil
}

func (m *MySQLStore) CountPurchases(ctx context.Context, itemID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM purchases WHERE item_id = ?`, itemID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return count, nil
}

// CreateReservation admits the row with one conditional insert: the
// availability check (purchases plus live reservations below totalStock) and
// the write are a single statement, so the check cannot go stale between a
// read and a separate write. A duplicate-entry rejection may come from an
// overdue row the sweeper has not reached yet; that slot is released and the
// insert retried. Deadlocks between concurrent admissions are retried too.
func (m *MySQLStore) CreateReservation(ctx context.Context, res domain.Reservation, totalStock int) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = m.insertReservation(ctx, res, totalStock)
		switch {
		case isRetryableLockError(err):
			continue
		case errors.Is(err, domain.ErrReservationExists):
			freed, freeErr := m.releaseOverdueSlot(ctx, res.UserID, res.ItemID, res.CreatedAt)
			if freeErr != nil {
				return freeErr
			}
			if !freed {
				return domain.ErrReservationExists
			}
			continue
		default:
			return err
		}
	}
	return err
}

func (m *MySQLStore) insertReservation(ctx context.Context, res domain.Reservation, totalStock int) error {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO reservations (id, user_id, item_id, status, live, payment_attempt_id, payment_token, created_at, expires_at)
		SELECT ?, ?, ?, 'reserved', 1, ?, ?, ?, ?
		FROM DUAL
		WHERE (SELECT COUNT(*) FROM purchases WHERE item_id = ?) +
		      (SELECT COUNT(*) FROM reservations WHERE item_id = ? AND status = 'reserved' AND expires_at > ?) < ?`,
		res.ID, res.UserID, res.ItemID, res.PaymentAttemptID, res.PaymentToken, res.CreatedAt.UTC(), res.ExpiresAt.UTC(),
		res.ItemID, res.ItemID, res.CreatedAt.UTC(), totalStock,
	)
	if isDuplicateEntry(err) {
		return domain.ErrReservationExists
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrSoldOut
	}
	return nil
}

// releaseOverdueSlot expires the user's overdue reserved row so the live
// uniqueness slot frees up without waiting for the periodic sweep.
func (m *MySQLStore) releaseOverdueSlot(ctx context.Context, userID, itemID string, now time.Time) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE reservations
		SET status = 'expired', live = NULL
		WHERE user_id = ? AND item_id = ? AND status = 'reserved' AND expires_at <= ?`,
		userID, itemID, now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("release overdue slot: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLStore) LiveReservation(ctx context.Context, userID, itemID string, now time.Time) (*domain.Reservation, error) {
	var res domain.Reservation
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, item_id, status, payment_attempt_id, payment_token, created_at, expires_at
		FROM reservations
		WHERE user_id = ? AND item_id = ? AND status = 'reserved' AND expires_at > ?`,
		userID, itemID, now.UTC(),
	).Scan(&res.ID, &res.UserID, &res.ItemID, &res.Status, &res.PaymentAttemptID, &res.PaymentToken, &res.CreatedAt, &res.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	return &res, nil
}

// ConfirmReservation marks the live reservation confirmed and creates the
// purchase record in the same transaction. A duplicate purchase insert, or a
// replay arriving after the reservation was already confirmed, reports
// success rather than an error.
func (m *MySQLStore) ConfirmReservation(ctx context.Context, userID, itemID, paymentAttemptID string, price decimal.Decimal, now time.Time) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var resID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM reservations
		WHERE user_id = ? AND item_id = ? AND status = 'reserved' AND expires_at > ?
		FOR UPDATE`,
		userID, itemID, now.UTC(),
	).Scan(&resID)

	if errors.Is(err, sql.ErrNoRows) {
		// Duplicate confirmation replay: success if the purchase already landed.
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM purchases WHERE user_id = ? AND item_id = ?`,
			userID, itemID,
		).Scan(&count); err != nil {
			return fmt.Errorf("query purchase: %w", err)
		}
		if count > 0 {
			return nil
		}
		return domain.ErrNoLiveReservation
	}
	if err != nil {
		return fmt.Errorf("lock reservation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (user_id, item_id, quantity, price_paid, order_ref, purchased_at)
		VALUES (?, ?, 1, ?, ?, ?)`,
		userID, itemID, price, uuid.NewString(), now.UTC(),
	)
	if err != nil && !isDuplicateEntry(err) {
		return fmt.Errorf("insert purchase: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = 'confirmed', live = NULL, payment_attempt_id = ?
		WHERE id = ?`,
		paymentAttemptID, resID,
	)
	if err != nil {
		return fmt.Errorf("confirm reservation: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLStore) CancelReservation(ctx context.Context, userID, itemID string, now time.Time) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE reservations
		SET status = 'cancelled', live = NULL
		WHERE user_id = ? AND item_id = ? AND status = 'reserved' AND expires_at > ?`,
		userID, itemID, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNoLiveReservation
	}
	return nil
}

func (m *MySQLStore) EffectiveSoldCount(ctx context.Context, itemID string, now time.Time) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM purchases WHERE item_id = ?) +
		       (SELECT COUNT(*) FROM reservations WHERE item_id = ? AND status = 'reserved' AND expires_at > ?)`,
		itemID, itemID, now.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count effective sold: %w", err)
	}
	return count, nil
}

func (m *MySQLStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE reservations
		SET status = 'expired', live = NULL
		WHERE status = 'reserved' AND expires_at <= ?`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}
	return result.RowsAffected()
}

func (m *MySQLStore) Reset(ctx context.Context, itemID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM purchases WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("reset purchases: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM reservations WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("reset reservations: %w", err)
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

func isRetryableLockError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == mysqlDeadlock || mysqlErr.Number == mysqlLockWaitTimeout
}
