// Package session keeps the seat boards of the gateway's active visitors.
//
// Each board belongs to the identity that opened it.  Boards nobody has
// touched for the idle TTL are closed by the reaper, which releases their
// holds exactly as if the visitor had navigated away.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-seat-board/internal/auth"
	"github.com/iliyamo/cinema-seat-board/internal/live"
	"github.com/iliyamo/cinema-seat-board/internal/queue"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
	"github.com/iliyamo/cinema-seat-board/internal/seatboard"
)

var (
	ErrNotFound  = errors.New("board not found")
	ErrForbidden = errors.New("board belongs to another user")
)

// Publisher sends domain events to the broker.
type Publisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

// Opener builds and opens the board for one screening visit.
type Opener func(ctx context.Context, who auth.Identity, screeningID int64, ticketCount int) (*seatboard.Board, error)

// NewOpener returns an Opener that gives every board its own live channel
// and a reservation client carrying the visitor's credential.
func NewOpener(api *reservation.Client, wsBase string, tmpl seatboard.Config, log *slog.Logger, chanOpts ...live.Option) Opener {
	return func(ctx context.Context, who auth.Identity, screeningID int64, ticketCount int) (*seatboard.Board, error) {
		cfg := tmpl
		cfg.ScreeningID = screeningID
		cfg.TicketCount = ticketCount
		cfg.UserID = who.UserID
		cfg.Credential = who.Credential

		opts := append([]live.Option{live.WithLogger(log)}, chanOpts...)
		ch := live.NewChannel(wsBase, opts...)
		b, err := seatboard.Open(ctx, cfg, api.WithCredential(who.Credential), ch, seatboard.WithLogger(log))
		if err != nil {
			ch.Disconnect()
			return nil, err
		}
		return b, nil
	}
}

// Entry is one registered board.
type Entry struct {
	ID      string
	Owner   string
	Board   *seatboard.Board
	Created time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *Entry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// Manager is the board registry.
type Manager struct {
	open      Opener
	pub       Publisher
	idleTTL   time.Duration
	reapEvery time.Duration
	log       *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	boards map[string]*Entry
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithPublisher(p Publisher) Option { return func(m *Manager) { m.pub = p } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithIdleTTL sets how long an untouched board lives and how often the
// reaper looks for such boards.
func WithIdleTTL(ttl, every time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
		if every > 0 {
			m.reapEvery = every
		}
	}
}

func NewManager(open Opener, opts ...Option) *Manager {
	m := &Manager{
		open:      open,
		idleTTL:   20 * time.Minute,
		reapEvery: 30 * time.Second,
		log:       slog.Default(),
		now:       time.Now,
		boards:    make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a board for who and registers it under a fresh id.
func (m *Manager) Open(ctx context.Context, who auth.Identity, screeningID int64, ticketCount int) (*Entry, error) {
	b, err := m.open(ctx, who, screeningID, ticketCount)
	if err != nil {
		return nil, err
	}
	now := m.now()
	e := &Entry{ID: uuid.NewString(), Owner: who.Key(), Board: b, Created: now, lastSeen: now}

	m.mu.Lock()
	m.boards[e.ID] = e
	m.mu.Unlock()

	m.watch(e)
	m.log.Info("board registered", "board_id", e.ID, "owner", e.Owner, "screening_id", screeningID)
	return e, nil
}

// watch forwards hold expiries to the broker until the board closes.
func (m *Manager) watch(e *Entry) {
	updates, _ := e.Board.Subscribe()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for u := range updates {
			if u.Notice == nil || u.Notice.Kind != seatboard.NoticeHoldExpired || m.pub == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = m.pub.Publish(ctx, queue.Event{
				Type:        queue.TypeHoldsExpired,
				BoardID:     e.ID,
				ScreeningID: e.Board.ScreeningID(),
				UserKey:     e.Owner,
				OccurredAt:  u.Notice.At,
			})
			cancel()
		}
	}()
}

// Get returns the board with id if owner opened it, and marks it used.
func (m *Manager) Get(id, owner string) (*Entry, error) {
	m.mu.Lock()
	e, ok := m.boards[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if e.Owner != owner {
		return nil, ErrForbidden
	}
	e.touch(m.now())
	return e, nil
}

// Touch keeps a board alive, for example while its event stream is open.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	e, ok := m.boards[id]
	m.mu.Unlock()
	if ok {
		e.touch(m.now())
	}
}

// Forget drops a board that already closed itself, e.g. after a handoff
// to payment.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	delete(m.boards, id)
	m.mu.Unlock()
}

// Close tears down the board and releases its holds.
func (m *Manager) Close(ctx context.Context, id, owner string) error {
	e, err := m.Get(id, owner)
	if err != nil {
		return err
	}
	m.Forget(id)
	return e.Board.Close(ctx)
}

// Count returns the number of registered boards.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boards)
}

// Reap closes boards idle for longer than the TTL and drops boards that
// closed on their own.  It returns the number of boards removed.
func (m *Manager) Reap(ctx context.Context) int {
	cutoff := m.now().Add(-m.idleTTL)
	var stale []*Entry
	m.mu.Lock()
	for id, e := range m.boards {
		if e.Board.Closed() || e.idleSince().Before(cutoff) {
			stale = append(stale, e)
			delete(m.boards, id)
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		if err := e.Board.Close(ctx); err != nil {
			m.log.Warn("reaped board close failed", "board_id", e.ID, "err", err)
		}
		m.log.Info("board reaped", "board_id", e.ID, "owner", e.Owner)
	}
	return len(stale)
}

// Run reaps idle boards until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.reapEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			m.Reap(rctx)
			cancel()
		}
	}
}

// Shutdown closes every board, releasing holds, and waits for the
// expiry watchers to finish.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Entry, 0, len(m.boards))
	for id, e := range m.boards {
		all = append(all, e)
		delete(m.boards, id)
	}
	m.mu.Unlock()

	for _, e := range all {
		_ = e.Board.Close(ctx)
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	m.log.Info("session manager stopped", "boards_closed", len(all))
}
