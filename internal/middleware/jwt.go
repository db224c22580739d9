package middleware // middleware provides shared request processing for handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
)

// Context keys set by BearerAuth.
const (
	ctxIdentity = "identity"
	ctxUserID   = "user_id"
	ctxRole     = "role"
)

// BearerAuth returns an Echo middleware that reads the bearer credential,
// parses it and stores the resulting identity in the request context.
// Browsers cannot set headers on an EventSource, so a ?token= query
// parameter is accepted as well.  The raw credential is kept so handlers
// can forward it to the reservation backend unchanged.
func BearerAuth(p *auth.Parser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := ""
			if h := c.Request().Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				raw = strings.TrimPrefix(h, "Bearer ")
			} else if q := c.QueryParam("token"); q != "" {
				raw = q
			}
			id, err := p.Parse(raw)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "missing bearer token"
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
			}
			c.Set(ctxIdentity, id)
			c.Set(ctxUserID, id.Key())
			c.Set(ctxRole, id.Role)
			return next(c)
		}
	}
}
