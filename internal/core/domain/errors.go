package domain

import "errors"

// Business rejections. These are expected outcomes of a sale under
// contention, not failures; callers map them to responses and never retry
// them automatically.
var (
	ErrSaleNotFound      = errors.New("sale not initialized")
	ErrSaleNotStarted    = errors.New("sale has not started")
	ErrSaleEnded         = errors.New("sale has ended")
	ErrSoldOut           = errors.New("sold out")
	ErrAlreadyPurchased  = errors.New("user already purchased this item")
	ErrReservationExists = errors.New("user already holds a live reservation")
	ErrNoLiveReservation = errors.New("no live reservation")
	ErrNotSupported      = errors.New("operation not supported by this sale mode")
)
