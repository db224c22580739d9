package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
	"github.com/iliyamo/cinema-seat-board/internal/handler"
	"github.com/iliyamo/cinema-seat-board/internal/middleware"
)

// RegisterAdmin registers operational endpoints.  They require a verified
// bearer credential carrying the admin role, and answer 403 when the
// gateway runs without a JWT secret.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, parser *auth.Parser) {
	g := e.Group("/v1/admin", middleware.RequireVerified(parser), middleware.BearerAuth(parser), middleware.RequireRole("admin"))
	g.GET("/boards", a.Boards)
}
