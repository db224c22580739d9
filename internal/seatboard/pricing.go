package seatboard

import (
	"sort"
	"time"

	"github.com/iliyamo/cinema-seat-board/internal/model"
)

// Pricing holds the per seat prices shown before payment.  Amounts are
// in cents.
type Pricing struct {
	StandardCents   int `json:"standard_cents"`
	ReclinerCents   int `json:"recliner_cents"`
	ServiceFeeCents int `json:"service_fee_cents"`
}

// DefaultPricing is 12.00 per standard seat, 18.00 per recliner and a
// 2.00 service fee per order.
func DefaultPricing() Pricing {
	return Pricing{StandardCents: 1200, ReclinerCents: 1800, ServiceFeeCents: 200}
}

// PriceOf returns the price of one seat.
func (p Pricing) PriceOf(s model.Seat) int {
	if s.Type() == model.SeatTypeRecliner {
		return p.ReclinerCents
	}
	return p.StandardCents
}

// HandoffSeat is one seat passed on to payment.
type HandoffSeat struct {
	SeatID     int64  `json:"seat_id"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	PriceCents int    `json:"price_cents"`
}

// Handoff is everything the payment step needs to redeem the holds.
type Handoff struct {
	ScreeningID     int64         `json:"screening_id"`
	UserID          int64         `json:"user_id,omitempty"`
	ReservationIDs  []int64       `json:"reservation_ids"`
	Seats           []HandoffSeat `json:"seats"`
	SubtotalCents   int           `json:"subtotal_cents"`
	ServiceFeeCents int           `json:"service_fee_cents"`
	TotalCents      int           `json:"total_cents"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
}

// quote prices the seats, sorted by label.
func (p Pricing) quote(seats []model.Seat) ([]HandoffSeat, int) {
	out := make([]HandoffSeat, 0, len(seats))
	subtotal := 0
	for _, s := range seats {
		price := p.PriceOf(s)
		subtotal += price
		out = append(out, HandoffSeat{SeatID: s.ID, Label: s.Label(), Type: s.Type(), PriceCents: price})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].SeatID < out[j].SeatID
	})
	return out, subtotal
}
