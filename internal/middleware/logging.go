package middleware

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const headerRequestID = "X-Request-ID"

// RequestLogger tags every request with an id (taken from X-Request-ID
// or freshly generated) and logs one line per request once it is done.
func RequestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Request().Header.Get(headerRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(headerRequestID, rid)
			c.Set("request_id", rid)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			attrs := []any{
				slog.String("request_id", rid),
				slog.String("method", c.Request().Method),
				slog.String("route", c.Path()),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.String("ip", c.RealIP()),
				slog.String("user", userKey(c)),
			}
			switch {
			case status >= 500:
				log.ErrorContext(c.Request().Context(), "http request", attrs...)
			case status >= 400:
				log.WarnContext(c.Request().Context(), "http request", attrs...)
			default:
				log.InfoContext(c.Request().Context(), "http request", attrs...)
			}
			return nil
		}
	}
}
