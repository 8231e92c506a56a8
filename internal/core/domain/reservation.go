package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "reserved"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusExpired   ReservationStatus = "expired"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// Reservation is a soft lock on one unit for one user, held until an
// external payment confirms it or the TTL elapses. At most one reservation
// in state reserved exists per (user, item) at any time.
type Reservation struct {
	ID               string
	UserID           string
	ItemID           string
	Status           ReservationStatus
	PaymentAttemptID string
	PaymentToken     string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// IsLive reports whether the reservation still holds a unit: it must be in
// state reserved and its TTL must not have elapsed. Liveness is always
// evaluated against a timestamp so an unswept row past its expiry never
// counts toward sold stock.
func (r Reservation) IsLive(now time.Time) bool {
	return r.Status == ReservationStatusReserved && r.ExpiresAt.After(now)
}
