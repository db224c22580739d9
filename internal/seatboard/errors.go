package seatboard

import "errors"

// Domain errors.  They are reported to the caller of the failing action
// together with a Notice and never reach the network.
var (
	ErrNoScreening        = errors.New("seatboard: screening id is required")
	ErrInvalidTicketCount = errors.New("seatboard: ticket count must not be negative")
	ErrUnknownSeat        = errors.New("seatboard: unknown seat")
	ErrSeatUnavailable    = errors.New("seatboard: seat is not available")
	ErrLimitReached       = errors.New("seatboard: ticket limit reached")
	ErrPending            = errors.New("seatboard: a request for this seat is already in flight")
	ErrNothingSelected    = errors.New("seatboard: no seats selected")
	ErrBoardClosed        = errors.New("seatboard: board is closed")
)
