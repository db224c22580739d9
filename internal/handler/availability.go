package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/model"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
	"github.com/iliyamo/cinema-seat-board/internal/seatboard"
)

// AvailabilityReader loads a screening's seat availability.
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, screeningID int64, forUser bool) ([]reservation.SeatAvailability, error)
}

// PublicHandler serves data that needs no credential.
type PublicHandler struct {
	API     AvailabilityReader
	Pricing seatboard.Pricing
}

func NewPublicHandler(api AvailabilityReader, pricing seatboard.Pricing) *PublicHandler {
	return &PublicHandler{API: api, Pricing: pricing}
}

type publicSeat struct {
	SeatID     int64            `json:"seat_id"`
	Label      string           `json:"label"`
	SeatType   string           `json:"seat_type"`
	Status     model.SeatStatus `json:"status"`
	PriceCents int              `json:"price_cents"`
}

// Availability handles GET /v1/screenings/:id/availability.  Holds are
// not attributed to anyone, so every hold shows as held_by_other.
func (h *PublicHandler) Availability(c echo.Context) error {
	screeningID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	items, err := h.API.GetAvailability(c.Request().Context(), screeningID, false)
	if err != nil {
		return fail(c, err)
	}
	out := make([]publicSeat, 0, len(items))
	free := 0
	for _, it := range items {
		st := seatboard.Derive(it.Status, false)
		if st == model.StatusAvailable {
			free++
		}
		out = append(out, publicSeat{
			SeatID:     it.Seat.ID,
			Label:      it.Seat.Label(),
			SeatType:   it.Seat.Type(),
			Status:     st,
			PriceCents: h.Pricing.PriceOf(it.Seat),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"screening_id": screeningID, "available": free, "seats": out})
}
