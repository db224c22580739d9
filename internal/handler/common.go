package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
	"github.com/iliyamo/cinema-seat-board/internal/middleware"
	"github.com/iliyamo/cinema-seat-board/internal/repository"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
	"github.com/iliyamo/cinema-seat-board/internal/seatboard"
	"github.com/iliyamo/cinema-seat-board/internal/session"
)

// caller returns the identity stored by the bearer middleware.
func caller(c echo.Context) (auth.Identity, bool) {
	return middleware.CurrentIdentity(c)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (int64, bool) {
	n, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// noticeKindOf names the notice a rejected board action raised, if any.
func noticeKindOf(err error) seatboard.NoticeKind {
	switch {
	case errors.Is(err, seatboard.ErrLimitReached):
		return seatboard.NoticeLimitReached
	case errors.Is(err, seatboard.ErrSeatUnavailable):
		return seatboard.NoticeSeatUnavailable
	case errors.Is(err, reservation.ErrConflict):
		return seatboard.NoticeSeatTaken
	case errors.Is(err, reservation.ErrAuth):
		return seatboard.NoticeAuthRequired
	}
	return ""
}

// statusOf maps board, session, store and backend errors to HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, repository.ErrHandoffNotFound),
		errors.Is(err, seatboard.ErrUnknownSeat):
		return http.StatusNotFound
	case errors.Is(err, session.ErrForbidden), errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, seatboard.ErrNoScreening), errors.Is(err, seatboard.ErrInvalidTicketCount):
		return http.StatusBadRequest
	case errors.Is(err, seatboard.ErrLimitReached), errors.Is(err, seatboard.ErrSeatUnavailable),
		errors.Is(err, seatboard.ErrNothingSelected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, seatboard.ErrPending), errors.Is(err, reservation.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, seatboard.ErrBoardClosed), errors.Is(err, reservation.ErrNotFound):
		return http.StatusGone
	case errors.Is(err, reservation.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, reservation.ErrNetwork), errors.Is(err, reservation.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err as an echo.Map body.  Backend detail text is passed
// through because it is what the user should read.
func fail(c echo.Context, err error) error {
	code := statusOf(err)
	msg := err.Error()
	if d := reservation.Detail(err); d != "" {
		msg = d
	}
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	body := echo.Map{"error": msg}
	if kind := noticeKindOf(err); kind != "" {
		body["notice"] = kind
	}
	return c.JSON(code, body)
}
