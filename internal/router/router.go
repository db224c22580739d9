package router // package router defines how HTTP routes are registered for the gateway

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/handler"
	"github.com/iliyamo/cinema-seat-board/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated availability endpoint.
// Availability is read by every visitor of a screening page, so responses
// are cached per screening; boards invalidate the entry of their
// screening when holds change.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, cache *middleware.AvailabilityCache) {
	e.GET("/v1/screenings/:id/availability", p.Availability, cache.Middleware())
}
