package middleware

// identity.go holds accessors for what BearerAuth stored in the Echo
// context.  Handlers use CurrentIdentity; the rate limiter keys buckets
// by userKey, which is "anon" for unauthenticated requests.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
)

// CurrentIdentity returns the caller's identity, if authenticated.
func CurrentIdentity(c echo.Context) (auth.Identity, bool) {
	id, ok := c.Get(ctxIdentity).(auth.Identity)
	return id, ok
}

func userKey(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
