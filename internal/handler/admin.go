package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/session"
)

// AdminHandler exposes operational views of the gateway.
type AdminHandler struct {
	Sessions *session.Manager
}

func NewAdminHandler(sessions *session.Manager) *AdminHandler {
	return &AdminHandler{Sessions: sessions}
}

// Boards handles GET /v1/admin/boards and reports how many boards are
// open.
func (h *AdminHandler) Boards(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"active_boards": h.Sessions.Count()})
}
