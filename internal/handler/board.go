package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/queue"
	"github.com/iliyamo/cinema-seat-board/internal/repository"
	"github.com/iliyamo/cinema-seat-board/internal/session"
)

// BoardHandler exposes the seat board of a screening visit over HTTP.
// All methods assume BearerAuth already ran; a board is only visible to
// the identity that opened it.
type BoardHandler struct {
	Sessions  *session.Manager
	Checkouts *repository.HandoffRepo
	// Backend returns a client acting with the given credential.  It
	// releases holds whose checkout could not be stored.
	Backend func(credential string) HoldBackend
	// Cache, when set, drops the public seat map of a screening whose
	// holds changed.
	Cache  AvailabilityInvalidator
	Events session.Publisher
	Log    *slog.Logger
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration
}

// AvailabilityInvalidator drops cached availability of a screening.
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, screeningID int64) error
}

func NewBoardHandler(sessions *session.Manager, checkouts *repository.HandoffRepo, backend func(string) HoldBackend, events session.Publisher, log *slog.Logger) *BoardHandler {
	if sessions == nil || checkouts == nil || backend == nil {
		panic("nil dependency passed to NewBoardHandler")
	}
	return &BoardHandler{Sessions: sessions, Checkouts: checkouts, Backend: backend, Events: events, Log: log, Heartbeat: 15 * time.Second}
}

// entry resolves the :board path parameter for the caller.
func (h *BoardHandler) entry(c echo.Context) (*session.Entry, error) {
	who, ok := caller(c)
	if !ok {
		return nil, session.ErrForbidden
	}
	return h.Sessions.Get(c.Param("board"), who.Key())
}

// Open handles POST /v1/screenings/:id/boards.  The body may carry
// {"ticket_count": n}; it defaults to two.  The snapshot is loaded before
// the response is written, so a backend failure is reported here and no
// board is created.
func (h *BoardHandler) Open(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	screeningID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	var body struct {
		TicketCount int `json:"ticket_count"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
	}
	e, err := h.Sessions.Open(c.Request().Context(), who, screeningID, body.TicketCount)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"board_id": e.ID, "view": e.Board.Current()})
}

// Get handles GET /v1/boards/:board and returns the merged view.
func (h *BoardHandler) Get(c echo.Context) error {
	e, err := h.entry(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, e.Board.Current())
}

// Reconnect handles POST /v1/boards/:board/reconnect.  It restarts the
// live channel after it gave up and returns the current view; the view
// is reloaded once the channel is back.
func (h *BoardHandler) Reconnect(c echo.Context) error {
	e, err := h.entry(c)
	if err != nil {
		return fail(c, err)
	}
	if err := e.Board.Reconnect(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, e.Board.Current())
}

// Stream handles GET /v1/boards/:board/stream.  It writes a "view" event
// right away and then one per change, preceded by a "notice" event when
// the change raised one.  The stream ends with a "closed" event when the
// board closes.
func (h *BoardHandler) Stream(c echo.Context) error {
	e, err := h.entry(c)
	if err != nil {
		return fail(c, err)
	}
	updates, unsubscribe := e.Board.Subscribe()
	defer unsubscribe()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := writeEvent(w, "view", e.Board.Current()); err != nil {
		return nil
	}

	hb := time.NewTicker(h.Heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				_ = writeEvent(w, "closed", echo.Map{"board_id": e.ID})
				return nil
			}
			if u.Notice != nil {
				if err := writeEvent(w, "notice", u.Notice); err != nil {
					return nil
				}
			}
			if err := writeEvent(w, "view", u.View); err != nil {
				return nil
			}
		case <-hb.C:
			h.Sessions.Touch(e.ID)
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// Toggle handles POST /v1/boards/:board/seats/:seat/toggle.  A free seat
// is reserved, an own hold is released.  Rejections carry the notice kind
// the board raised so the UI can explain them.
func (h *BoardHandler) Toggle(c echo.Context) error {
	e, err := h.entry(c)
	if err != nil {
		return fail(c, err)
	}
	seatID, ok := pathID(c, "seat")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	action, err := e.Board.Toggle(c.Request().Context(), seatID)
	if err != nil {
		return fail(c, err)
	}
	h.invalidate(c.Request().Context(), e.Board.ScreeningID())
	return c.JSON(http.StatusOK, echo.Map{"action": action, "view": e.Board.Current()})
}

// Extend handles POST /v1/boards/:board/extend.
func (h *BoardHandler) Extend(c echo.Context) error {
	e, err := h.entry(c)
	if err != nil {
		return fail(c, err)
	}
	exp, err := e.Board.Extend(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expires_at": exp, "view": e.Board.Current()})
}

// CancelHolds handles DELETE /v1/boards/:board/holds.  The board stays
// open and reloads availability.
func (h *BoardHandler) CancelHolds(c echo.Context) error {
	e, err := h.entry(c)
	if err != nil {
		return fail(c, err)
	}
	if err := e.Board.CancelHolds(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	h.invalidate(c.Request().Context(), e.Board.ScreeningID())
	return c.JSON(http.StatusOK, e.Board.Current())
}

// Proceed handles POST /v1/boards/:board/proceed.  The handoff is stored
// under a checkout token that lives as long as the holds do, and the
// board is closed without releasing them.
func (h *BoardHandler) Proceed(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	e, err := h.entry(c)
	if err != nil {
		return fail(c, err)
	}
	ctx := c.Request().Context()
	handoff, err := e.Board.Proceed(ctx)
	if err != nil {
		return fail(c, err)
	}
	h.Sessions.Forget(e.ID)

	co := &repository.Checkout{Owner: e.Owner, BoardID: e.ID, Credential: who.Credential, Handoff: handoff}
	if err := h.Checkouts.Save(ctx, co, time.Now()); err != nil {
		h.Log.ErrorContext(ctx, "store checkout failed", "board_id", e.ID, "err", err)
		// nothing can redeem the holds without a stored checkout
		if cerr := h.Backend(who.Credential).CancelAllHolds(ctx, handoff.ScreeningID); cerr != nil {
			h.Log.WarnContext(ctx, "release holds after failed handoff", "board_id", e.ID, "err", cerr)
		}
		h.invalidate(ctx, handoff.ScreeningID)
		return fail(c, err)
	}

	labels := make([]string, len(handoff.Seats))
	for i, s := range handoff.Seats {
		labels[i] = s.Label
	}
	h.publish(ctx, queue.Event{
		Type:           queue.TypeCheckoutCreated,
		BoardID:        e.ID,
		CheckoutRef:    repository.CheckoutRef(co.Token),
		ScreeningID:    handoff.ScreeningID,
		UserKey:        e.Owner,
		ReservationIDs: handoff.ReservationIDs,
		Seats:          labels,
		TotalCents:     handoff.TotalCents,
	})
	return c.JSON(http.StatusCreated, echo.Map{"checkout_token": co.Token, "handoff": handoff})
}

// Leave handles DELETE /v1/boards/:board.  Any holds are released.
func (h *BoardHandler) Leave(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	e, err := h.Sessions.Get(c.Param("board"), who.Key())
	if err != nil {
		return fail(c, err)
	}
	if err := h.Sessions.Close(c.Request().Context(), e.ID, who.Key()); err != nil {
		return fail(c, err)
	}
	h.invalidate(c.Request().Context(), e.Board.ScreeningID())
	return c.NoContent(http.StatusNoContent)
}

func (h *BoardHandler) invalidate(ctx context.Context, screeningID int64) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, screeningID); err != nil {
		h.Log.WarnContext(ctx, "invalidate availability cache", "screening_id", screeningID, "err", err)
	}
}

func (h *BoardHandler) publish(ctx context.Context, ev queue.Event) {
	if h.Events == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	if err := h.Events.Publish(ctx, ev); err != nil {
		h.Log.WarnContext(ctx, "publish event failed", "type", ev.Type, "err", err)
	}
}
