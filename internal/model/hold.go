package model

import "time"

// ReservationHold is the client-visible part of a server-side seat
// hold.  Holds are created by a toggle, extended in fixed increments
// and destroyed by expiry, explicit cancel or redemption into a ticket.
// The server enforces a hard cap on extensions which the client treats
// as opaque.
//
// Fields:
//  ID          – reservation identifier used to extend or redeem.
//  SeatID      – seat being held.
//  ScreeningID – screening for which the seat is held.
//  UserID      – user owning the hold (zero when unknown).
//  ExpiresAt   – when the hold lapses.
type ReservationHold struct {
	ID          int64     `json:"id"`
	SeatID      int64     `json:"seat_id"`
	ScreeningID int64     `json:"screening_id"`
	UserID      int64     `json:"user_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}
