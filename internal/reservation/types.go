package reservation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/cinema-seat-board/internal/model"
)

// SeatAvailability is one entry of an availability snapshot after the
// wire format has been normalized.
type SeatAvailability struct {
	Seat      model.Seat
	Status    model.RawStatus
	HeldBy    int64      // user holding the seat, zero when unknown
	IsMine    bool       // only meaningful for authenticated snapshots
	ExpiresAt *time.Time // hold expiry when known
}

// availabilityItem accepts both the flat and the nested item shapes the
// backend produces: the seat descriptor may live under "seat" and the
// holder may be reported as reserved_by or held_by_user.
type availabilityItem struct {
	SeatID     int64           `json:"seat_id"`
	Status     model.RawStatus `json:"status"`
	HeldByUser int64           `json:"held_by_user"`
	ReservedBy int64           `json:"reserved_by"`
	IsMine     bool            `json:"is_mine"`
	ExpiresAt  string          `json:"expires_at"`
	RowLabel   string          `json:"row_label"`
	SeatNumber int             `json:"seat_number"`
	SeatType   string          `json:"seat_type"`
	Seat       *struct {
		ID         int64  `json:"id"`
		RowLabel   string `json:"row_label"`
		SeatNumber int    `json:"seat_number"`
		SeatType   string `json:"seat_type"`
	} `json:"seat"`
}

func (it availabilityItem) normalize() SeatAvailability {
	out := SeatAvailability{
		Seat: model.Seat{
			ID:         it.SeatID,
			RowLabel:   it.RowLabel,
			SeatNumber: it.SeatNumber,
			SeatType:   it.SeatType,
		},
		Status: it.Status,
		HeldBy: it.ReservedBy,
		IsMine: it.IsMine || it.Status == model.RawReservedByMe,
	}
	if out.HeldBy == 0 {
		out.HeldBy = it.HeldByUser
	}
	if s := it.Seat; s != nil {
		if s.ID != 0 {
			out.Seat.ID = s.ID
		}
		if s.RowLabel != "" {
			out.Seat.RowLabel = s.RowLabel
		}
		if s.SeatNumber != 0 {
			out.Seat.SeatNumber = s.SeatNumber
		}
		if s.SeatType != "" {
			out.Seat.SeatType = s.SeatType
		}
	}
	if out.Status == "" {
		out.Status = model.RawAvailable
	}
	if t, ok := model.ParseTimestamp(it.ExpiresAt); ok {
		out.ExpiresAt = &t
	}
	return out
}

// decodeAvailability handles both a bare array and the wrapped
// {screening_id, seats} object.
func decodeAvailability(body []byte) ([]SeatAvailability, error) {
	body = bytes.TrimSpace(body)
	var items []availabilityItem
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode availability: %w", err)
		}
	} else {
		var wrapped struct {
			ScreeningID int64              `json:"screening_id"`
			Seats       []availabilityItem `json:"seats"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode availability: %w", err)
		}
		items = wrapped.Seats
	}
	out := make([]SeatAvailability, 0, len(items))
	for _, it := range items {
		sa := it.normalize()
		if sa.Seat.ID == 0 {
			continue
		}
		out = append(out, sa)
	}
	return out, nil
}

// ToggleAction tells whether a toggle created or released a hold.
type ToggleAction string

const (
	ActionReserved   ToggleAction = "reserved"
	ActionUnreserved ToggleAction = "unreserved"
)

// ToggleResult is the normalized toggle response.
type ToggleResult struct {
	Action           ToggleAction
	Message          string
	SeatIDs          []int64
	ExpiresInMinutes int
	Reservation      *model.ReservationHold // nil when the backend omitted it
}

type toggleRequest struct {
	ScreeningID int64 `json:"screening_id"`
	SeatID      int64 `json:"seat_id"`
}

type toggleResponse struct {
	Action           ToggleAction `json:"action"`
	Message          string       `json:"message"`
	SeatIDs          []int64      `json:"seat_ids"`
	ExpiresInMinutes int          `json:"expires_in_minutes"`
	Reservation      *struct {
		ID          int64  `json:"id"`
		ScreeningID int64  `json:"screening_id"`
		SeatID      int64  `json:"seat_id"`
		UserID      int64  `json:"user_id"`
		ExpiresAt   string `json:"expires_at"`
	} `json:"reservation"`
}

func (r toggleResponse) normalize() ToggleResult {
	out := ToggleResult{
		Action:           r.Action,
		Message:          r.Message,
		SeatIDs:          r.SeatIDs,
		ExpiresInMinutes: r.ExpiresInMinutes,
	}
	if rv := r.Reservation; rv != nil {
		hold := &model.ReservationHold{
			ID:          rv.ID,
			SeatID:      rv.SeatID,
			ScreeningID: rv.ScreeningID,
			UserID:      rv.UserID,
		}
		if t, ok := model.ParseTimestamp(rv.ExpiresAt); ok {
			hold.ExpiresAt = t
		}
		out.Reservation = hold
	}
	return out
}

type extendRequest struct {
	ReservationIDs []int64 `json:"reservation_ids"`
	ExtraMinutes   int     `json:"extra_minutes"`
}

type extendResponse struct {
	ID        int64  `json:"id"`
	ExpiresAt string `json:"expires_at"`
}

type cancelSeatsRequest struct {
	ScreeningID int64   `json:"screening_id"`
	SeatIDs     []int64 `json:"seat_ids"`
}

type cancelSeatsResponse struct {
	Message        string `json:"message"`
	CancelledCount int    `json:"cancelled_count"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type redeemRequest struct {
	ReservationIDs []int64 `json:"reservation_ids"`
	PaymentID      string  `json:"payment_id"`
}

type redeemResponse struct {
	Tickets []model.Ticket `json:"tickets"`
}
