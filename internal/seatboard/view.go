package seatboard

import (
	"time"

	"github.com/iliyamo/cinema-seat-board/internal/model"
)

// SeatView is the merged state of one seat.
type SeatView struct {
	SeatID     int64            `json:"seat_id"`
	Label      string           `json:"label"`
	RowLabel   string           `json:"row_label,omitempty"`
	SeatNumber int              `json:"seat_number,omitempty"`
	SeatType   string           `json:"seat_type"`
	Status     model.SeatStatus `json:"status"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Selected   bool             `json:"selected"`
	Pending    bool             `json:"pending"`
	Clickable  bool             `json:"clickable"`
	PriceCents int              `json:"price_cents"`
}

// View is a consistent copy of the board.
type View struct {
	ScreeningID      int64                 `json:"screening_id"`
	TicketCount      int                   `json:"ticket_count"`
	Seats            []SeatView            `json:"seats"`
	Selection        []int64               `json:"selection"`
	ExpiresAt        *time.Time            `json:"expires_at,omitempty"`
	RemainingSeconds int                   `json:"remaining_seconds"`
	Remaining        string                `json:"remaining"`
	Connection       model.ConnectionState `json:"connection"`
	SubtotalCents    int                   `json:"subtotal_cents"`
	Closed           bool                  `json:"closed"`
}

// NoticeKind classifies a short lived user facing notice.
type NoticeKind string

const (
	NoticeLimitReached    NoticeKind = "limit_reached"
	NoticeSeatUnavailable NoticeKind = "seat_unavailable"
	NoticeSeatTaken       NoticeKind = "seat_taken"
	NoticeHoldExpired     NoticeKind = "hold_expired"
	NoticeExtendFailed    NoticeKind = "extend_failed"
	NoticeRequestFailed   NoticeKind = "request_failed"
	NoticeAuthRequired    NoticeKind = "auth_required"
)

// Notice is scoped to the seats or the action it concerns.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	SeatIDs []int64    `json:"seat_ids,omitempty"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Update is delivered to subscribers after every state change.  Notice
// is nil for silent changes.
type Update struct {
	View   View    `json:"view"`
	Notice *Notice `json:"notice,omitempty"`
}
