package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRecord is the durable proof that a user won exactly one unit.
// At most one record exists per (user, item); the storage layer enforces
// this with a uniqueness constraint, not application logic.
type PurchaseRecord struct {
	UserID      string
	ItemID      string
	Quantity    int
	PricePaid   decimal.Decimal
	OrderRef    string
	PurchasedAt time.Time
}
