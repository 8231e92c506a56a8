package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSaleWindow = errors.New("sale window end must be after start")
	ErrInvalidStock      = errors.New("total stock must be greater than zero")
	ErrInvalidPrice      = errors.New("price must not be negative")
)

type SaleStatus string

const (
	SaleStatusUpcoming SaleStatus = "upcoming"
	SaleStatusActive   SaleStatus = "active"
	SaleStatusEnded    SaleStatus = "ended"
	SaleStatusSoldOut  SaleStatus = "sold_out"
)

// SaleWindow is the configuration of a single flash sale: one scarce item,
// a fixed stock, and the interval during which purchases are accepted.
// Immutable once initialized; reset exists for test isolation only.
type SaleWindow struct {
	ItemID      string
	ProductName string
	TotalStock  int
	StartTime   time.Time
	EndTime     time.Time
	Price       decimal.Decimal
}

func NewSaleWindow(itemID, productName string, totalStock int, start, end time.Time, price decimal.Decimal) (SaleWindow, error) {
	if totalStock <= 0 {
		return SaleWindow{}, ErrInvalidStock
	}
	if !end.After(start) {
		return SaleWindow{}, ErrInvalidSaleWindow
	}
	if price.IsNegative() {
		return SaleWindow{}, ErrInvalidPrice
	}

	return SaleWindow{
		ItemID:      itemID,
		ProductName: productName,
		TotalStock:  totalStock,
		StartTime:   start.UTC(),
		EndTime:     end.UTC(),
		Price:       price,
	}, nil
}

// WindowStatus derives the lifecycle state from the time window alone.
func (w SaleWindow) WindowStatus(now time.Time) SaleStatus {
	if now.Before(w.StartTime) {
		return SaleStatusUpcoming
	}
	if !now.Before(w.EndTime) {
		return SaleStatusEnded
	}
	return SaleStatusActive
}

// Status derives the lifecycle state with sold-out taking precedence over
// the time window whenever no stock remains.
func (w SaleWindow) Status(now time.Time, remaining int) SaleStatus {
	if remaining <= 0 {
		return SaleStatusSoldOut
	}
	return w.WindowStatus(now)
}
