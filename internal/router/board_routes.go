package router

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
	"github.com/iliyamo/cinema-seat-board/internal/config"
	"github.com/iliyamo/cinema-seat-board/internal/handler"
	"github.com/iliyamo/cinema-seat-board/internal/middleware"
)

// RegisterBoards registers the seat board and checkout endpoints under
// /v1.  All routes require a bearer credential.  Seat actions are rate
// limited per user and route; the event stream is not, since it is one
// long request.
func RegisterBoards(e *echo.Echo, b *handler.BoardHandler, co *handler.CheckoutHandler, parser *auth.Parser, rl config.RateLimitConfig, rdb *redis.Client, log *slog.Logger) {
	g := e.Group("/v1", middleware.BearerAuth(parser))
	limited := middleware.NewTokenBucket(rl, rdb, log)

	g.POST("/screenings/:id/boards", b.Open, limited)
	g.GET("/boards/:board", b.Get)
	g.GET("/boards/:board/stream", b.Stream)
	g.POST("/boards/:board/reconnect", b.Reconnect, limited)
	g.POST("/boards/:board/seats/:seat/toggle", b.Toggle, limited)
	g.POST("/boards/:board/extend", b.Extend, limited)
	g.DELETE("/boards/:board/holds", b.CancelHolds, limited)
	g.POST("/boards/:board/proceed", b.Proceed, limited)
	g.DELETE("/boards/:board", b.Leave)

	g.GET("/checkouts/:token", co.Get)
	g.POST("/checkouts/:token/complete", co.Complete, limited)
}
