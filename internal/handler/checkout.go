package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/model"
	"github.com/iliyamo/cinema-seat-board/internal/queue"
	"github.com/iliyamo/cinema-seat-board/internal/repository"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
	"github.com/iliyamo/cinema-seat-board/internal/session"
)

// HoldBackend is the part of the reservation client the payment callback
// needs.
type HoldBackend interface {
	RedeemHolds(ctx context.Context, reservationIDs []int64, paymentRef string) ([]model.Ticket, error)
	CancelAllHolds(ctx context.Context, screeningID int64) error
}

// CheckoutHandler serves the payment side of a handoff.
type CheckoutHandler struct {
	Checkouts *repository.HandoffRepo
	// Backend returns a client acting with the given credential.
	Backend func(credential string) HoldBackend
	Cache   AvailabilityInvalidator
	Events  session.Publisher
	Log     *slog.Logger
}

func NewCheckoutHandler(checkouts *repository.HandoffRepo, backend func(string) HoldBackend, events session.Publisher, log *slog.Logger) *CheckoutHandler {
	if checkouts == nil || backend == nil {
		panic("nil dependency passed to NewCheckoutHandler")
	}
	return &CheckoutHandler{Checkouts: checkouts, Backend: backend, Events: events, Log: log}
}

// Get handles GET /v1/checkouts/:token and returns the stored handoff.
func (h *CheckoutHandler) Get(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	co, err := h.Checkouts.Get(c.Request().Context(), c.Param("token"), who.Key())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"checkout_token": co.Token, "handoff": co.Handoff})
}

// Complete handles POST /v1/checkouts/:token/complete with
// {"payment_reference": "...", "success": true}.  A successful payment
// redeems the holds into tickets; a failed one releases them.  Either
// way the checkout is consumed, except when the backend could not be
// reached, in which case it is put back so the callback can be retried.
func (h *CheckoutHandler) Complete(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		PaymentReference string `json:"payment_reference"`
		Success          bool   `json:"success"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Success && body.PaymentReference == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment_reference is required"})
	}

	ctx := c.Request().Context()
	co, err := h.Checkouts.Take(ctx, c.Param("token"), who.Key())
	if err != nil {
		return fail(c, err)
	}
	api := h.Backend(co.Credential)
	ho := co.Handoff

	if !body.Success {
		if err := api.CancelAllHolds(ctx, ho.ScreeningID); err != nil {
			h.Log.WarnContext(ctx, "release holds after failed payment", "checkout", repository.CheckoutRef(co.Token), "err", err)
		}
		h.invalidate(ctx, ho.ScreeningID)
		return c.JSON(http.StatusOK, echo.Map{"status": "cancelled"})
	}

	tickets, err := api.RedeemHolds(ctx, ho.ReservationIDs, body.PaymentReference)
	if err != nil {
		if errors.Is(err, reservation.ErrNetwork) {
			if perr := h.Checkouts.Save(ctx, co, time.Now()); perr != nil {
				h.Log.ErrorContext(ctx, "restore checkout failed", "checkout", repository.CheckoutRef(co.Token), "err", perr)
			}
		}
		return fail(c, err)
	}

	h.invalidate(ctx, ho.ScreeningID)

	labels := make([]string, len(ho.Seats))
	for i, s := range ho.Seats {
		labels[i] = s.Label
	}
	if h.Events != nil {
		ev := queue.Event{
			Type:           queue.TypeTicketsBooked,
			BoardID:        co.BoardID,
			CheckoutRef:    repository.CheckoutRef(co.Token),
			ScreeningID:    ho.ScreeningID,
			UserKey:        co.Owner,
			ReservationIDs: ho.ReservationIDs,
			Seats:          labels,
			TotalCents:     ho.TotalCents,
			PaymentRef:     body.PaymentReference,
			OccurredAt:     time.Now().UTC(),
		}
		if err := h.Events.Publish(ctx, ev); err != nil {
			h.Log.WarnContext(ctx, "publish event failed", "type", ev.Type, "err", err)
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{"status": "booked", "tickets": tickets})
}

func (h *CheckoutHandler) invalidate(ctx context.Context, screeningID int64) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, screeningID); err != nil {
		h.Log.WarnContext(ctx, "invalidate availability cache", "screening_id", screeningID, "err", err)
	}
}
