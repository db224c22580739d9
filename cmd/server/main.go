package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
	"github.com/iliyamo/cinema-seat-board/internal/config"
	"github.com/iliyamo/cinema-seat-board/internal/handler"
	"github.com/iliyamo/cinema-seat-board/internal/live"
	"github.com/iliyamo/cinema-seat-board/internal/logger"
	"github.com/iliyamo/cinema-seat-board/internal/middleware"
	"github.com/iliyamo/cinema-seat-board/internal/queue"
	"github.com/iliyamo/cinema-seat-board/internal/repository"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
	"github.com/iliyamo/cinema-seat-board/internal/router"
	"github.com/iliyamo/cinema-seat-board/internal/seatboard"
	queue_publisher "github.com/iliyamo/cinema-seat-board/internal/service"
	"github.com/iliyamo/cinema-seat-board/internal/session"
)

func main() {
	cfg := config.Load() // Load environment config
	lg := logger.New(cfg.Env, cfg.LogLevel)

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Fatal("redis is required for checkout handoffs; check REDIS_ADDR")
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := reservation.NewClient(cfg.APIBaseURL,
		reservation.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		reservation.WithLogger(lg))
	pub := queue_publisher.New(cfg.AMQPURL, cfg.EventsQueue, lg)
	pricing := seatboard.Pricing{
		StandardCents:   cfg.PriceStandardCents,
		ReclinerCents:   cfg.PriceReclinerCents,
		ServiceFeeCents: cfg.ServiceFeeCents,
	}

	opener := session.NewOpener(api, cfg.WSBaseURL, seatboard.Config{
		HoldDuration:  time.Duration(cfg.HoldDefaultMinutes) * time.Minute,
		ExtendMinutes: cfg.HoldExtendMinutes,
		ResyncDelay:   cfg.ResyncDelay,
		CallTimeout:   cfg.HTTPTimeout,
		Pricing:       pricing,
	}, lg,
		live.WithBackoff(cfg.WSReconnectBase, cfg.WSReconnectMaxAttempts),
		live.WithStableAfter(cfg.WSStableAfter))
	sessions := session.NewManager(opener,
		session.WithPublisher(pub),
		session.WithLogger(lg),
		session.WithIdleTTL(cfg.BoardIdleTTL, cfg.BoardReapInterval))
	go sessions.Run(ctx)

	if cfg.Consume {
		consumer := &queue.AuditConsumer{URL: cfg.AMQPURL, Queue: cfg.EventsQueue, Path: cfg.AuditLogPath, Log: lg}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("audit consumer stopped", "err", err)
			}
		}()
	}

	parser := auth.NewParser(cfg.JWTSecret)
	if !parser.Verifies() {
		lg.Warn("JWT_SECRET is empty; bearer tokens are not verified by the gateway")
	}
	checkouts := repository.NewHandoffRepo(rdb, "")
	availability := middleware.NewAvailabilityCache(config.LoadCacheConfig(), rdb)
	backend := func(cred string) handler.HoldBackend { return api.WithCredential(cred) }
	boards := handler.NewBoardHandler(sessions, checkouts, backend, pub, lg)
	boards.Cache = availability
	payments := handler.NewCheckoutHandler(checkouts, backend, pub, lg)
	payments.Cache = availability

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(middleware.RequestLogger(lg))
	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewPublicHandler(api, pricing), availability)
	router.RegisterBoards(e, boards, payments, parser, config.LoadRateLimitConfig(), rdb, lg)
	router.RegisterAdmin(e, handler.NewAdminHandler(sessions), parser)

	addr := ":" + cfg.Port
	lg.Info("listening", "addr", addr, "env", cfg.Env, "api", cfg.APIBaseURL, "ws", cfg.WSBaseURL)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", "err", err)
	}
	sessions.Shutdown(shutdownCtx)
}
