package live

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/iliyamo/cinema-seat-board/internal/model"
)

// Message types pushed by the server.
const (
	TypeSeatUpdate     = "seat_update"
	TypeBulkSeatUpdate = "bulk_seat_update"
)

var (
	// ErrMalformed marks an inbound message that could not be decoded.
	ErrMalformed = errors.New("live: malformed message")
	// ErrUnknownType marks a message whose type is not understood.
	ErrUnknownType = errors.New("live: unknown message type")
)

// SeatEvent is the normalized per-seat notification.  Bulk updates are
// fanned out into one SeatEvent per seat before reaching listeners.
type SeatEvent struct {
	SeatID           int64
	Status           model.RawStatus
	HeldBy           int64 // holder of the seat, zero when not reported
	IsMine           bool  // personalized by the server for this connection
	ExpiresAt        *time.Time
	PreviouslyHeldBy int64 // former holder when a hold was released or expired
}

type seatUpdate struct {
	SeatID               int64           `json:"seat_id"`
	Status               model.RawStatus `json:"status"`
	UserID               int64           `json:"user_id"`
	ReservedBy           int64           `json:"reserved_by"`
	HeldByUser           int64           `json:"held_by_user"`
	IsMine               bool            `json:"is_mine"`
	ExpiresAt            string          `json:"expires_at"`
	PreviouslyReservedBy int64           `json:"previously_reserved_by"`
	PreviouslyHeldBy     int64           `json:"previously_held_by"`
}

type envelope struct {
	Type string `json:"type"`
	seatUpdate
	Updates []seatUpdate `json:"updates"`
}

func (u seatUpdate) event() (SeatEvent, error) {
	if u.SeatID == 0 || u.Status == "" {
		return SeatEvent{}, fmt.Errorf("%w: seat update without seat_id or status", ErrMalformed)
	}
	ev := SeatEvent{
		SeatID:           u.SeatID,
		Status:           u.Status,
		HeldBy:           firstNonZero(u.UserID, u.ReservedBy, u.HeldByUser),
		IsMine:           u.IsMine || u.Status == model.RawReservedByMe,
		PreviouslyHeldBy: firstNonZero(u.PreviouslyReservedBy, u.PreviouslyHeldBy),
	}
	if t, ok := model.ParseTimestamp(u.ExpiresAt); ok {
		ev.ExpiresAt = &t
	}
	return ev, nil
}

// Decode parses one inbound frame.  A frame may carry several JSON
// messages back to back.  Every well-formed seat update is returned even
// when other parts of the frame fail; the error then describes what was
// dropped.
func Decode(frame []byte) ([]SeatEvent, error) {
	var (
		events []SeatEvent
		errs   []error
	)
	dec := json.NewDecoder(bytes.NewReader(frame))
	for {
		var env envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrMalformed, err))
			break
		}
		switch env.Type {
		case TypeSeatUpdate:
			ev, err := env.seatUpdate.event()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			events = append(events, ev)
		case TypeBulkSeatUpdate:
			for _, u := range env.Updates {
				ev, err := u.event()
				if err != nil {
					errs = append(errs, err)
					continue
				}
				events = append(events, ev)
			}
		default:
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownType, env.Type))
		}
	}
	return events, errors.Join(errs...)
}

func firstNonZero(vs ...int64) int64 {
	for _, v := range vs {
		if v != 0 {
			return v
		}
	}
	return 0
}
