package model

// RawStatus is the seat status string exactly as the reservation
// backend reports it, either in an availability snapshot or in a live
// seat_update message.
type RawStatus string

const (
	RawAvailable    RawStatus = "available"
	RawHeld         RawStatus = "held"
	RawReserved     RawStatus = "reserved"
	RawReservedByMe RawStatus = "reserved_by_me"
	RawBooked       RawStatus = "booked"
)

// IsHold reports whether the raw status denotes a temporary hold.
func (r RawStatus) IsHold() bool {
	return r == RawHeld || r == RawReserved || r == RawReservedByMe
}

// SeatStatus is the effective status of a seat from the point of view
// of one viewing session.  A seat is in exactly one status at a time.
type SeatStatus string

const (
	StatusAvailable   SeatStatus = "available"
	StatusHeldByOther SeatStatus = "held_by_other"
	StatusHeldByMe    SeatStatus = "held_by_me"
	StatusBooked      SeatStatus = "booked"
)

// Selectable reports whether a click on a seat in this status may
// reach the network: free seats can be held and own holds released.
func (s SeatStatus) Selectable() bool {
	return s == StatusAvailable || s == StatusHeldByMe
}
