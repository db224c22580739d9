package seatboard

import (
	"fmt"
	"time"

	"github.com/iliyamo/cinema-seat-board/internal/model"
)

// Derive maps a raw server status to the effective status for the
// viewing user.  Snapshot entries and live events go through the same
// function so identical server state always yields the same status.
func Derive(raw model.RawStatus, mine bool) model.SeatStatus {
	switch {
	case raw == model.RawReservedByMe:
		return model.StatusHeldByMe
	case raw.IsHold() && mine:
		return model.StatusHeldByMe
	case raw.IsHold():
		return model.StatusHeldByOther
	case raw == model.RawBooked:
		return model.StatusBooked
	default:
		return model.StatusAvailable
	}
}

// FormatRemaining renders a countdown as M:SS.  Negative durations
// render as 0:00.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
