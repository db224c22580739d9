package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // http package defines standard HTTP status codes
	"strings"

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/cinema-seat-board/internal/auth"
)

// RequireVerified refuses every request unless the parser checks token
// signatures.  Without a secret any caller could claim a role, so routes
// gated by RequireRole must sit behind it.
func RequireVerified(parser *auth.Parser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !parser.Verifies() {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "role checks need JWT_SECRET"})
			}
			return next(c)
		}
	}
}

// RequireRole returns a middleware function that enforces that the
// authenticated user has one of the specified roles.  Roles are compared
// case-insensitively because the backend has issued both "ADMIN" and
// "admin".  It assumes BearerAuth already stored the role under "role".
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(r)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(ctxRole).(string)
			if !ok || !allowed[strings.ToLower(role)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
