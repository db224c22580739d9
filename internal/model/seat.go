package model

import "strconv"

// Seat describes a physical seat in the room where a screening takes
// place.  Seats are identified by their numeric ID and described by a
// row label and seat number.  The seat_type drives pricing (standard
// or recliner).  A Seat is loaded once per screening and never changes
// while the user is selecting seats.
//
// Fields:
//  ID         – seat identifier shared with the reservation backend.
//  RowLabel   – letter or string designating the row.
//  SeatNumber – number of the seat within the row.
//  SeatType   – type of seat (standard, recliner).
type Seat struct {
	ID         int64  `json:"seat_id"`               // seats.id
	RowLabel   string `json:"row_label,omitempty"`   // seats.row_label
	SeatNumber int    `json:"seat_number,omitempty"` // seats.seat_number
	SeatType   string `json:"seat_type,omitempty"`   // seats.seat_type
}

// Seat types understood by the pricing rules.
const (
	SeatTypeStandard = "standard"
	SeatTypeRecliner = "recliner"
)

// Label returns the human readable seat label, e.g. "C7".  When the
// descriptor is unknown the numeric ID is used instead.
func (s Seat) Label() string {
	if s.RowLabel == "" && s.SeatNumber == 0 {
		return "#" + strconv.FormatInt(s.ID, 10)
	}
	return s.RowLabel + strconv.Itoa(s.SeatNumber)
}

// Type returns the seat type, defaulting to standard.
func (s Seat) Type() string {
	if s.SeatType == "" {
		return SeatTypeStandard
	}
	return s.SeatType
}
