package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
	"github.com/iliyamo/cinema-seat-board/internal/config"
	"github.com/iliyamo/cinema-seat-board/internal/live"
	"github.com/iliyamo/cinema-seat-board/internal/logger"
	"github.com/iliyamo/cinema-seat-board/internal/middleware"
	"github.com/iliyamo/cinema-seat-board/internal/model"
	"github.com/iliyamo/cinema-seat-board/internal/queue"
	"github.com/iliyamo/cinema-seat-board/internal/repository"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
	"github.com/iliyamo/cinema-seat-board/internal/seatboard"
	"github.com/iliyamo/cinema-seat-board/internal/session"
)

const secret = "handler-secret"

type stubAPI struct {
	mu        sync.Mutex
	toggleErr map[int64]error
	cancels   int
}

func (a *stubAPI) GetAvailability(_ context.Context, screeningID int64, _ bool) ([]reservation.SeatAvailability, error) {
	if screeningID == 404 {
		return nil, reservation.NewAPIError(http.StatusNotFound, "Screening not found")
	}
	exp := time.Now().Add(4 * time.Minute)
	return []reservation.SeatAvailability{
		{Seat: model.Seat{ID: 1, RowLabel: "A", SeatNumber: 1, SeatType: model.SeatTypeStandard}, Status: model.RawAvailable},
		{Seat: model.Seat{ID: 2, RowLabel: "A", SeatNumber: 2, SeatType: model.SeatTypeRecliner}, Status: model.RawAvailable},
		{Seat: model.Seat{ID: 3, RowLabel: "B", SeatNumber: 1, SeatType: model.SeatTypeStandard}, Status: model.RawHeld, HeldBy: 9, ExpiresAt: &exp},
	}, nil
}

func (a *stubAPI) ToggleSeat(_ context.Context, _ int64, seatID int64) (reservation.ToggleResult, error) {
	a.mu.Lock()
	err := a.toggleErr[seatID]
	a.mu.Unlock()
	if err != nil {
		return reservation.ToggleResult{}, err
	}
	return reservation.ToggleResult{
		Action:      reservation.ActionReserved,
		Reservation: &model.ReservationHold{ID: seatID * 100, SeatID: seatID, UserID: 42, ExpiresAt: time.Now().Add(5 * time.Minute)},
	}, nil
}

func (a *stubAPI) ExtendHold(context.Context, []int64, int) (time.Time, error) {
	return time.Now().Add(10 * time.Minute), nil
}

func (a *stubAPI) CancelAllHolds(context.Context, int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels++
	return nil
}

func (a *stubAPI) cancelCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancels
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fakeBackend struct {
	mu         sync.Mutex
	redeemErr  error
	redeemed   [][]int64
	cancels    int
	credential string
}

func (b *fakeBackend) RedeemHolds(_ context.Context, ids []int64, _ string) ([]model.Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redeemErr != nil {
		return nil, b.redeemErr
	}
	b.redeemed = append(b.redeemed, ids)
	tickets := make([]model.Ticket, len(ids))
	for i, id := range ids {
		tickets[i] = model.Ticket{ID: int64(i + 1), ReservationID: id, Status: "booked"}
	}
	return tickets, nil
}

func (b *fakeBackend) CancelAllHolds(context.Context, int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels++
	return nil
}

type testEnv struct {
	e        *echo.Echo
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	api      *stubAPI
	pub      *recordingPublisher
	backend  *fakeBackend
	sessions *session.Manager
	feeds    *feedCounter
}

// feedCounter counts live channel connects across all boards.
type feedCounter struct {
	mu       sync.Mutex
	connects int
}

func (f *feedCounter) Subscribe(live.Listener) func() { return func() {} }
func (f *feedCounter) Disconnect()                    {}
func (f *feedCounter) State() model.ConnectionState   { return model.ConnConnected }

func (f *feedCounter) Connect(int64, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *feedCounter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		e:       echo.New(),
		mr:      mr,
		rdb:     rdb,
		api:     &stubAPI{toggleErr: map[int64]error{}},
		pub:     &recordingPublisher{},
		backend: &fakeBackend{},
		feeds:   &feedCounter{},
	}
	env.sessions = session.NewManager(func(ctx context.Context, who auth.Identity, screeningID int64, ticketCount int) (*seatboard.Board, error) {
		return seatboard.Open(ctx, seatboard.Config{
			ScreeningID: screeningID,
			TicketCount: ticketCount,
			UserID:      who.UserID,
			Credential:  who.Credential,
		}, env.api, env.feeds, seatboard.WithLogger(logger.Discard()))
	}, session.WithLogger(logger.Discard()), session.WithPublisher(env.pub))

	repo := repository.NewHandoffRepo(rdb, "test:checkout")
	cache := middleware.NewAvailabilityCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "test:avail"}, rdb)
	backend := func(cred string) HoldBackend {
		env.backend.mu.Lock()
		env.backend.credential = cred
		env.backend.mu.Unlock()
		return env.backend
	}
	bh := NewBoardHandler(env.sessions, repo, backend, env.pub, logger.Discard())
	bh.Heartbeat = 50 * time.Millisecond
	bh.Cache = cache
	ch := NewCheckoutHandler(repo, backend, env.pub, logger.Discard())
	ch.Cache = cache

	env.e.GET("/v1/screenings/:id/availability", NewPublicHandler(env.api, seatboard.DefaultPricing()).Availability, cache.Middleware())
	g := env.e.Group("/v1", middleware.BearerAuth(auth.NewParser(secret)))
	g.POST("/screenings/:id/boards", bh.Open)
	g.GET("/boards/:board", bh.Get)
	g.GET("/boards/:board/stream", bh.Stream)
	g.POST("/boards/:board/reconnect", bh.Reconnect)
	g.POST("/boards/:board/seats/:seat/toggle", bh.Toggle)
	g.POST("/boards/:board/extend", bh.Extend)
	g.DELETE("/boards/:board/holds", bh.CancelHolds)
	g.POST("/boards/:board/proceed", bh.Proceed)
	g.DELETE("/boards/:board", bh.Leave)
	g.GET("/checkouts/:token", ch.Get)
	g.POST("/checkouts/:token/complete", ch.Complete)
	g.GET("/admin/boards", NewAdminHandler(env.sessions).Boards)
	return env
}

func tokenFor(t *testing.T, userID int64) string {
	t.Helper()
	tok, _, err := auth.Issue(secret, userID, "user@example.com", "customer", time.Hour)
	require.NoError(t, err)
	return tok
}

func (env *testEnv) do(t *testing.T, method, target, bearer, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (env *testEnv) open(t *testing.T, bearer string, tickets int) string {
	t.Helper()
	rec, out := env.do(t, http.MethodPost, "/v1/screenings/7/boards", bearer, `{"ticket_count":`+strconv.Itoa(tickets)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["board_id"].(string)
}

func TestOpenAndGetBoard(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)

	rec, out := env.do(t, http.MethodPost, "/v1/screenings/7/boards", alice, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := out["board_id"].(string)
	view := out["view"].(map[string]any)
	assert.EqualValues(t, 2, view["ticket_count"])
	assert.Len(t, view["seats"], 3)

	rec, _ = env.do(t, http.MethodGet, "/v1/boards/"+id, alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/boards/"+id, tokenFor(t, 7), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/v1/boards/"+id, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/v1/boards/nope", alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenBoardErrors(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)

	rec, _ := env.do(t, http.MethodPost, "/v1/screenings/abc/boards", alice, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := env.do(t, http.MethodPost, "/v1/screenings/404/boards", alice, "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "Screening not found", out["error"])
	assert.Equal(t, 0, env.sessions.Count())

	rec, _ = env.do(t, http.MethodPost, "/v1/screenings/7/boards", alice, `{"ticket_count":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToggleOutcomes(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 1)

	rec, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reserved", out["action"])

	rec, out = env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/2/toggle", alice, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "limit_reached", out["notice"])

	rec, out = env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/3/toggle", alice, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "seat_unavailable", out["notice"])

	rec, _ = env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/99/toggle", alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleConflict(t *testing.T) {
	env := newEnv(t)
	env.api.toggleErr[2] = reservation.NewAPIError(http.StatusConflict, "Seat already reserved")
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)

	rec, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/2/toggle", alice, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "seat_taken", out["notice"])
	assert.Equal(t, "Seat already reserved", out["error"])
}

func TestExtendAndCancelHolds(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)

	rec, _ := env.do(t, http.MethodPost, "/v1/boards/"+id+"/extend", alice, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")
	rec, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/extend", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, out["expires_at"])

	rec, out = env.do(t, http.MethodDelete, "/v1/boards/"+id+"/holds", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, out["selection"])
	assert.Equal(t, 1, env.api.cancelCount())
}

func TestProceedAndCompleteCheckout(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/2/toggle", alice, "")
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")

	rec, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/proceed", alice, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tok := out["checkout_token"].(string)
	handoff := out["handoff"].(map[string]any)
	assert.EqualValues(t, 3200, handoff["total_cents"])
	assert.Equal(t, 0, env.api.cancelCount())

	rec, _ = env.do(t, http.MethodGet, "/v1/boards/"+id, alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/checkouts/"+tok, tokenFor(t, 7), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/v1/checkouts/"+tok, alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, out = env.do(t, http.MethodPost, "/v1/checkouts/"+tok+"/complete", alice, `{"payment_reference":"pay_1","success":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "booked", out["status"])
	assert.Len(t, out["tickets"], 2)
	assert.Equal(t, [][]int64{{100, 200}}, env.backend.redeemed)
	assert.Equal(t, alice, env.backend.credential)
	assert.Equal(t, []string{queue.TypeCheckoutCreated, queue.TypeTicketsBooked}, env.pub.types())
	assert.Equal(t, repository.CheckoutRef(tok), env.pub.events[0].CheckoutRef)
	assert.NotContains(t, env.pub.events[0].CheckoutRef, tok)

	rec, _ = env.do(t, http.MethodPost, "/v1/checkouts/"+tok+"/complete", alice, `{"payment_reference":"pay_1","success":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProceedReleasesHoldsWhenCheckoutCannotBeStored(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")

	env.mr.Close()
	rec, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/proceed", alice, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, out["checkout_token"])
	assert.Equal(t, 1, env.backend.cancels)
	assert.Equal(t, alice, env.backend.credential)
	assert.Empty(t, env.pub.types())
	assert.Equal(t, 0, env.sessions.Count())
}

func TestFailedPaymentReleasesHolds(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")
	_, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/proceed", alice, "")
	tok := out["checkout_token"].(string)

	rec, out := env.do(t, http.MethodPost, "/v1/checkouts/"+tok+"/complete", alice, `{"success":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", out["status"])
	assert.Equal(t, 1, env.backend.cancels)

	rec, _ = env.do(t, http.MethodGet, "/v1/checkouts/"+tok, alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedeemNetworkErrorKeepsCheckout(t *testing.T) {
	env := newEnv(t)
	env.backend.redeemErr = reservation.ErrNetwork
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")
	_, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/proceed", alice, "")
	tok := out["checkout_token"].(string)

	rec, _ := env.do(t, http.MethodPost, "/v1/checkouts/"+tok+"/complete", alice, `{"payment_reference":"pay_2","success":true}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/checkouts/"+tok, alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLeaveReleasesHolds(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")

	rec, _ := env.do(t, http.MethodDelete, "/v1/boards/"+id, alice, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, env.api.cancelCount())
	assert.Equal(t, 0, env.sessions.Count())
}

func TestPublicAvailability(t *testing.T) {
	env := newEnv(t)
	rec, out := env.do(t, http.MethodGet, "/v1/screenings/7/availability", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["available"])
	seats := out["seats"].([]any)
	held := seats[2].(map[string]any)
	assert.Equal(t, "B1", held["label"])
	assert.Equal(t, "held_by_other", held["status"])
	assert.EqualValues(t, 1800, seats[1].(map[string]any)["price_cents"])
}

func TestHoldChangesInvalidateAvailability(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)
	ctx := context.Background()
	cached := func() bool {
		n, err := env.rdb.Exists(ctx, "test:avail:screening:7").Result()
		require.NoError(t, err)
		return n == 1
	}

	rec, _ := env.do(t, http.MethodGet, "/v1/screenings/7/availability", "", "")
	require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	require.True(t, cached())
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")
	assert.False(t, cached(), "toggle drops the seat map")

	env.do(t, http.MethodGet, "/v1/screenings/7/availability", "", "")
	require.True(t, cached())
	env.do(t, http.MethodDelete, "/v1/boards/"+id+"/holds", alice, "")
	assert.False(t, cached(), "cancel drops the seat map")

	env.do(t, http.MethodGet, "/v1/screenings/7/availability", "", "")
	require.True(t, cached())
	env.do(t, http.MethodDelete, "/v1/boards/"+id, alice, "")
	assert.False(t, cached(), "leave drops the seat map")

	id = env.open(t, alice, 2)
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")
	_, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/proceed", alice, "")
	tok := out["checkout_token"].(string)
	env.do(t, http.MethodGet, "/v1/screenings/7/availability", "", "")
	require.True(t, cached())
	rec, _ = env.do(t, http.MethodPost, "/v1/checkouts/"+tok+"/complete", alice, `{"payment_reference":"pay_3","success":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, cached(), "booking drops the seat map")
}

func TestReconnectBoard(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 2)
	require.Equal(t, 1, env.feeds.count())

	rec, out := env.do(t, http.MethodPost, "/v1/boards/"+id+"/reconnect", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["seats"], 3)
	assert.Equal(t, 2, env.feeds.count())

	rec, _ = env.do(t, http.MethodPost, "/v1/boards/"+id+"/reconnect", tokenFor(t, 7), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	env.do(t, http.MethodDelete, "/v1/boards/"+id, alice, "")
	rec, _ = env.do(t, http.MethodPost, "/v1/boards/"+id+"/reconnect", alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2, env.feeds.count())
}

func TestAdminBoards(t *testing.T) {
	env := newEnv(t)
	alice := tokenFor(t, 42)
	env.open(t, alice, 2)
	_, out := env.do(t, http.MethodGet, "/v1/admin/boards", alice, "")
	assert.EqualValues(t, 1, out["active_boards"])
}

func TestStreamDeliversViewsAndNotices(t *testing.T) {
	env := newEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()
	alice := tokenFor(t, 42)
	id := env.open(t, alice, 1)

	resp, err := http.Get(srv.URL + "/v1/boards/" + id + "/stream?token=" + alice)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))
	events := readEvents(resp)

	assert.Equal(t, "view", <-events)
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/1/toggle", alice, "")
	env.do(t, http.MethodPost, "/v1/boards/"+id+"/seats/2/toggle", alice, "")
	env.do(t, http.MethodDelete, "/v1/boards/"+id, alice, "")

	var got []string
	for name := range events {
		got = append(got, name)
	}
	assert.Contains(t, got, "notice")
	assert.Equal(t, "closed", got[len(got)-1])
}

// readEvents yields SSE event names until the stream ends.
func readEvents(resp *http.Response) <-chan string {
	out := make(chan string, 64)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				out <- name
			}
		}
	}()
	return out
}
