package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-board/internal/config"
)

// AvailabilityCache keeps the public seat map of each screening in Redis
// for a short TTL.  Entries are keyed by screening, so boards can drop
// the entry of their screening as soon as one of their holds changes.
type AvailabilityCache struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	maxBody int
}

// NewAvailabilityCache returns a cache that stores nothing when caching
// is disabled or rdb is nil.
func NewAvailabilityCache(cfg config.CacheConfig, rdb *redis.Client) *AvailabilityCache {
	if !cfg.Enabled {
		rdb = nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "seatboard:availability"
	}
	return &AvailabilityCache{rdb: rdb, prefix: prefix, ttl: ttl, maxBody: cfg.MaxBodyBytes}
}

func (a *AvailabilityCache) key(screeningID int64) string {
	return a.prefix + ":screening:" + strconv.FormatInt(screeningID, 10)
}

// Invalidate drops the cached seat map of a screening.
func (a *AvailabilityCache) Invalidate(ctx context.Context, screeningID int64) error {
	if a == nil || a.rdb == nil {
		return nil
	}
	return a.rdb.Del(ctx, a.key(screeningID)).Err()
}

// bodyRecorder forwards the response and keeps a copy of the body until
// it grows past limit.
type bodyRecorder struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (w *bodyRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	if !w.overflow {
		if w.limit > 0 && w.buf.Len()+len(b) > w.limit {
			w.overflow = true
			w.buf.Reset()
		} else {
			w.buf.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

// Middleware serves GET requests for the screening in the :id path
// parameter from the cache.  Only 200 JSON documents are stored, together
// with their content type.
func (a *AvailabilityCache) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a.rdb == nil || c.Request().Method != http.MethodGet {
				return next(c)
			}
			screeningID, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil || screeningID <= 0 {
				return next(c)
			}
			ctx := c.Request().Context()
			key := a.key(screeningID)

			if hit, err := a.rdb.HGetAll(ctx, key).Result(); err == nil && hit["body"] != "" {
				c.Response().Header().Set("X-Cache", "HIT")
				return c.Blob(http.StatusOK, hit["content_type"], []byte(hit["body"]))
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: a.maxBody}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}

			ct := c.Response().Header().Get(echo.HeaderContentType)
			if rec.status != http.StatusOK || rec.overflow || rec.buf.Len() == 0 || !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
				return nil
			}
			_, _ = a.rdb.TxPipelined(context.Background(), func(p redis.Pipeliner) error {
				p.HSet(context.Background(), key, "content_type", ct, "body", rec.buf.String())
				p.Expire(context.Background(), key, a.ttl)
				return nil
			})
			return nil
		}
	}
}
