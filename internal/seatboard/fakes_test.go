package seatboard

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-board/internal/live"
	"github.com/iliyamo/cinema-seat-board/internal/logger"
	"github.com/iliyamo/cinema-seat-board/internal/model"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
)

var t0 = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

const me = int64(42)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock fires due timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.at.After(c.now) {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// active counts timers that have not fired or been stopped.
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeAPI struct {
	mu             sync.Mutex
	snapshot       []reservation.SeatAvailability
	snapshotErr    error
	onAvailability func()
	toggle         func(seatID int64) (reservation.ToggleResult, error)
	extend         func(ids []int64, minutes int) (time.Time, error)
	cancelErr      error

	availabilityCalls int
	toggleCalls       []int64
	extendCalls       [][]int64
	cancelCalls       int
}

func (a *fakeAPI) GetAvailability(_ context.Context, _ int64, _ bool) ([]reservation.SeatAvailability, error) {
	a.mu.Lock()
	a.availabilityCalls++
	hook := a.onAvailability
	snap := append([]reservation.SeatAvailability(nil), a.snapshot...)
	err := a.snapshotErr
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return snap, err
}

func (a *fakeAPI) ToggleSeat(_ context.Context, _ int64, seatID int64) (reservation.ToggleResult, error) {
	a.mu.Lock()
	a.toggleCalls = append(a.toggleCalls, seatID)
	fn := a.toggle
	a.mu.Unlock()
	if fn == nil {
		return reservation.ToggleResult{Action: reservation.ActionReserved}, nil
	}
	return fn(seatID)
}

func (a *fakeAPI) ExtendHold(_ context.Context, ids []int64, minutes int) (time.Time, error) {
	a.mu.Lock()
	a.extendCalls = append(a.extendCalls, ids)
	fn := a.extend
	a.mu.Unlock()
	return fn(ids, minutes)
}

func (a *fakeAPI) CancelAllHolds(context.Context, int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelCalls++
	return a.cancelErr
}

func (a *fakeAPI) setSnapshot(items ...reservation.SeatAvailability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = items
}

func (a *fakeAPI) counts() (availability, cancels int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.availabilityCalls, a.cancelCalls
}

type fakeFeed struct {
	mu          sync.Mutex
	listener    live.Listener
	connects    int
	disconnects int
}

func (f *fakeFeed) Subscribe(l live.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listener = live.Listener{}
	}
}

func (f *fakeFeed) Connect(int64, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeFeed) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeFeed) State() model.ConnectionState { return model.ConnConnected }

func (f *fakeFeed) push(ev live.SeatEvent) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l.OnEvent != nil {
		l.OnEvent(ev)
	}
}

func (f *fakeFeed) state(s model.ConnectionState) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l.OnState != nil {
		l.OnState(s)
	}
}

func avail(id int64, row string, n int, raw model.RawStatus) reservation.SeatAvailability {
	return reservation.SeatAvailability{
		Seat:   model.Seat{ID: id, RowLabel: row, SeatNumber: n, SeatType: model.SeatTypeStandard},
		Status: raw,
	}
}

func heldBy(sa reservation.SeatAvailability, user int64, exp time.Time) reservation.SeatAvailability {
	sa.HeldBy = user
	sa.IsMine = user == me
	sa.ExpiresAt = &exp
	return sa
}

type harness struct {
	api   *fakeAPI
	feed  *fakeFeed
	clock *fakeClock
	board *Board
}

func openBoard(t *testing.T, api *fakeAPI, ticketCount int) *harness {
	t.Helper()
	h := &harness{api: api, feed: &fakeFeed{}, clock: newFakeClock()}
	b, err := Open(context.Background(), Config{
		ScreeningID: 7,
		TicketCount: ticketCount,
		UserID:      me,
		Credential:  "tok",
	}, api, h.feed, WithClock(h.clock), WithLogger(logger.Discard()))
	require.NoError(t, err)
	h.board = b
	return h
}

// reserveWithExpiry answers every toggle of a free seat with a
// reservation expiring after d and every toggle of a held seat with a
// release.
func reserveWithExpiry(clock *fakeClock, d time.Duration) func(int64) (reservation.ToggleResult, error) {
	held := map[int64]bool{}
	var mu sync.Mutex
	return func(seatID int64) (reservation.ToggleResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if held[seatID] {
			delete(held, seatID)
			return reservation.ToggleResult{Action: reservation.ActionUnreserved}, nil
		}
		held[seatID] = true
		return reservation.ToggleResult{
			Action: reservation.ActionReserved,
			Reservation: &model.ReservationHold{
				ID:        seatID * 100,
				SeatID:    seatID,
				UserID:    me,
				ExpiresAt: clock.Now().Add(d),
			},
		}, nil
	}
}

func statusOf(v View, seatID int64) model.SeatStatus {
	for _, s := range v.Seats {
		if s.SeatID == seatID {
			return s.Status
		}
	}
	return ""
}
