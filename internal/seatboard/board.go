// Package seatboard merges the availability snapshot, live seat events
// and the user's own actions into one seat view per screening visit.
//
// A Board owns the selection (the seats the user intends to buy), the
// hold countdown and the decision of which seats are clickable.  Every
// handler runs under one mutex and leaves status and selection
// consistent before releasing it; network calls are made outside the
// lock in two phases (tentative check, then apply the acknowledgement).
package seatboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-board/internal/live"
	"github.com/iliyamo/cinema-seat-board/internal/model"
	"github.com/iliyamo/cinema-seat-board/internal/reservation"
)

const (
	defaultTicketCount   = 2
	defaultHoldDuration  = 5 * time.Minute
	defaultExtendMinutes = 5
	defaultResyncDelay   = 100 * time.Millisecond
	defaultCallTimeout   = 10 * time.Second
	updateBuffer         = 16
)

// Reservations is the part of the reservation client the board uses.
type Reservations interface {
	GetAvailability(ctx context.Context, screeningID int64, forUser bool) ([]reservation.SeatAvailability, error)
	ToggleSeat(ctx context.Context, screeningID, seatID int64) (reservation.ToggleResult, error)
	ExtendHold(ctx context.Context, reservationIDs []int64, extraMinutes int) (time.Time, error)
	CancelAllHolds(ctx context.Context, screeningID int64) error
}

// Feed is the live seat event subscription.
type Feed interface {
	Subscribe(l live.Listener) (unsubscribe func())
	Connect(screeningID int64, credential string)
	Disconnect()
	State() model.ConnectionState
}

// Config describes one screening visit.
type Config struct {
	ScreeningID   int64
	TicketCount   int           // zero means two
	UserID        int64         // zero when the credential does not carry it
	Credential    string        // opaque bearer credential
	HoldDuration  time.Duration // used when a reserve ack carries no expiry
	ExtendMinutes int
	ResyncDelay   time.Duration // coalescing window for conflict resyncs
	CallTimeout   time.Duration // timeout for calls made from timers
	Pricing       Pricing
}

// Option configures a Board.
type Option func(*Board)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(b *Board) { b.clock = c } }

// WithLogger sets the board logger.
func WithLogger(l *slog.Logger) Option { return func(b *Board) { b.log = l } }

type seatState struct {
	seat           model.Seat
	status         model.SeatStatus
	heldBy         int64
	expiresAt      *time.Time
	reservationIDs []int64
	version        uint64
}

// Board is the merged seat state of one screening visit.
type Board struct {
	cfg   Config
	api   Reservations
	feed  Feed
	clock Clock
	log   *slog.Logger

	mu           sync.Mutex
	userID       int64
	seats        map[int64]*seatState
	order        []int64
	selection    map[int64]struct{}
	pending      map[int64]bool // seat id -> adding
	version      uint64
	expiresAt    *time.Time
	expiryTimer  Timer
	countdownGen uint64
	resyncTimer  Timer
	conn         model.ConnectionState
	everUp       bool
	closed       bool
	proceeding   bool
	subs         map[int]chan Update
	nextSub      int
	unsubscribe  func()
}

// Open loads the authoritative snapshot and then subscribes to live
// events.  A snapshot failure is terminal for the visit and returned
// as is.
func Open(ctx context.Context, cfg Config, api Reservations, feed Feed, opts ...Option) (*Board, error) {
	if cfg.ScreeningID <= 0 {
		return nil, ErrNoScreening
	}
	if cfg.TicketCount < 0 {
		return nil, ErrInvalidTicketCount
	}
	if cfg.TicketCount == 0 {
		cfg.TicketCount = defaultTicketCount
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = defaultHoldDuration
	}
	if cfg.ExtendMinutes <= 0 {
		cfg.ExtendMinutes = defaultExtendMinutes
	}
	if cfg.ResyncDelay <= 0 {
		cfg.ResyncDelay = defaultResyncDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Pricing == (Pricing{}) {
		cfg.Pricing = DefaultPricing()
	}

	b := &Board{
		cfg:       cfg,
		api:       api,
		feed:      feed,
		clock:     realClock{},
		log:       slog.Default(),
		userID:    cfg.UserID,
		seats:     make(map[int64]*seatState),
		selection: make(map[int64]struct{}),
		pending:   make(map[int64]bool),
		conn:      model.ConnDisconnected,
		subs:      make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("screening_id", cfg.ScreeningID)

	items, err := api.GetAvailability(ctx, cfg.ScreeningID, cfg.Credential != "")
	if err != nil {
		return nil, fmt.Errorf("load seat availability: %w", err)
	}
	b.mu.Lock()
	b.applySnapshotLocked(items, b.version)
	b.mu.Unlock()

	b.unsubscribe = feed.Subscribe(live.Listener{
		OnEvent: b.handleEvent,
		OnState: b.handleConnState,
	})
	feed.Connect(cfg.ScreeningID, cfg.Credential)
	b.log.Info("seat board opened", "seats", len(items), "ticket_count", cfg.TicketCount)
	return b, nil
}

// ScreeningID returns the screening the board mirrors.
func (b *Board) ScreeningID() int64 { return b.cfg.ScreeningID }

// UserID returns the viewing user's id, zero while it is still unknown.
func (b *Board) UserID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userID
}

// Current returns a consistent copy of the board.
func (b *Board) Current() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

// Subscribe returns a channel receiving an Update after every change.
// Delivery is best effort: updates are dropped for a subscriber whose
// buffer is full, and the next update carries the full view again.  The
// channel is closed when the board closes or cancel is called.
func (b *Board) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Update, updateBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Toggle reserves a free seat or releases one of the user's own holds.
// Domain rejections return ErrSeatUnavailable or ErrLimitReached without
// a network call.  A conflict marks the seat as held by someone else and
// schedules a resync; the returned error wraps reservation.ErrConflict.
func (b *Board) Toggle(ctx context.Context, seatID int64) (reservation.ToggleAction, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrBoardClosed
	}
	st, ok := b.seats[seatID]
	if !ok {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: %d", ErrUnknownSeat, seatID)
	}
	if _, busy := b.pending[seatID]; busy {
		b.mu.Unlock()
		return "", ErrPending
	}
	switch st.status {
	case model.StatusBooked, model.StatusHeldByOther:
		b.emitLocked(b.noticeLocked(NoticeSeatUnavailable, "Seat "+st.seat.Label()+" is not available", seatID))
		b.mu.Unlock()
		return "", ErrSeatUnavailable
	case model.StatusAvailable:
		if b.claimedLocked() >= b.cfg.TicketCount {
			b.emitLocked(b.noticeLocked(NoticeLimitReached,
				fmt.Sprintf("You can select at most %d seats", b.cfg.TicketCount), seatID))
			b.mu.Unlock()
			return "", ErrLimitReached
		}
	}
	b.pending[seatID] = st.status == model.StatusAvailable
	b.emitLocked(nil)
	b.mu.Unlock()

	res, err := b.api.ToggleSeat(ctx, b.cfg.ScreeningID, seatID)

	b.mu.Lock()
	delete(b.pending, seatID)
	if b.closed {
		proceeding := b.proceeding
		b.mu.Unlock()
		if err == nil && res.Action == reservation.ActionReserved && !proceeding {
			b.cancelAll("late reserve after close")
		}
		return "", ErrBoardClosed
	}
	defer b.mu.Unlock()

	if err != nil {
		b.toggleFailedLocked(st, err)
		return "", fmt.Errorf("toggle seat %d: %w", seatID, err)
	}

	switch res.Action {
	case reservation.ActionReserved:
		if res.Reservation != nil && b.userID == 0 && res.Reservation.UserID != 0 {
			b.userID = res.Reservation.UserID
		}
		exp := b.holdExpiry(res)
		b.setSeatLocked(st, model.StatusHeldByMe, b.userID, &exp)
		st.reservationIDs = reservationIDs(res, seatID)
	case reservation.ActionUnreserved:
		b.setSeatLocked(st, model.StatusAvailable, 0, nil)
	}
	b.recomputeCountdownLocked()
	b.emitLocked(nil)
	return res.Action, nil
}

func (b *Board) toggleFailedLocked(st *seatState, err error) {
	seatID := st.seat.ID
	switch {
	case errors.Is(err, reservation.ErrConflict):
		b.setSeatLocked(st, model.StatusHeldByOther, 0, nil)
		b.recomputeCountdownLocked()
		b.scheduleResyncLocked()
		b.emitLocked(b.noticeLocked(NoticeSeatTaken, "Seat "+st.seat.Label()+" was just taken", seatID))
	case errors.Is(err, reservation.ErrNotFound):
		b.scheduleResyncLocked()
		b.emitLocked(b.noticeLocked(NoticeHoldExpired, "Your hold on seat "+st.seat.Label()+" is gone", seatID))
	case errors.Is(err, reservation.ErrAuth):
		b.emitLocked(b.noticeLocked(NoticeAuthRequired, "Please sign in again", seatID))
	default:
		msg := reservation.Detail(err)
		if msg == "" {
			msg = "Could not update seat " + st.seat.Label()
		}
		b.emitLocked(b.noticeLocked(NoticeRequestFailed, msg, seatID))
	}
}

// holdExpiry prefers the absolute expiry, then expires_in_minutes, then
// the configured hold length.
func (b *Board) holdExpiry(res reservation.ToggleResult) time.Time {
	if res.Reservation != nil && !res.Reservation.ExpiresAt.IsZero() {
		return res.Reservation.ExpiresAt
	}
	if res.ExpiresInMinutes > 0 {
		return b.clock.Now().Add(time.Duration(res.ExpiresInMinutes) * time.Minute)
	}
	return b.clock.Now().Add(b.cfg.HoldDuration)
}

func reservationIDs(res reservation.ToggleResult, seatID int64) []int64 {
	switch {
	case res.Reservation != nil && res.Reservation.ID != 0:
		return []int64{res.Reservation.ID}
	case len(res.SeatIDs) > 0:
		return append([]int64(nil), res.SeatIDs...)
	default:
		return []int64{seatID}
	}
}

// Extend pushes every own hold by the configured increment.  When the
// holds are already gone all local hold state is dropped.
func (b *Board) Extend(ctx context.Context) (time.Time, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return time.Time{}, ErrBoardClosed
	}
	ids := b.reservationIDsLocked()
	b.mu.Unlock()
	if len(ids) == 0 {
		return time.Time{}, ErrNothingSelected
	}

	exp, err := b.api.ExtendHold(ctx, ids, b.cfg.ExtendMinutes)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return time.Time{}, ErrBoardClosed
	}
	if err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			lost := b.releaseOwnLocked()
			b.scheduleResyncLocked()
			b.emitLocked(b.noticeLocked(NoticeHoldExpired, "Your hold has expired, please select your seats again", lost...))
		} else {
			b.emitLocked(b.noticeLocked(NoticeExtendFailed, "Failed to extend reservation time"))
		}
		return time.Time{}, fmt.Errorf("extend hold: %w", err)
	}
	for id := range b.selection {
		st := b.seats[id]
		t := exp
		b.setSeatLocked(st, model.StatusHeldByMe, st.heldBy, &t)
	}
	b.recomputeCountdownLocked()
	b.emitLocked(nil)
	return exp, nil
}

// CancelHolds releases every hold the user has on the screening and
// reloads availability.  Unlike Close the failure is reported.
func (b *Board) CancelHolds(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBoardClosed
	}
	b.mu.Unlock()

	if err := b.api.CancelAllHolds(ctx, b.cfg.ScreeningID); err != nil {
		b.mu.Lock()
		b.emitLocked(b.noticeLocked(NoticeRequestFailed, "Could not cancel your reservation"))
		b.mu.Unlock()
		return fmt.Errorf("cancel holds: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBoardClosed
	}
	b.releaseOwnLocked()
	b.emitLocked(nil)
	b.mu.Unlock()

	b.resync(ctx)
	return nil
}

// Proceed ends the visit without releasing the holds and returns what
// the payment step needs to redeem them.
func (b *Board) Proceed(ctx context.Context) (Handoff, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Handoff{}, ErrBoardClosed
	}
	if len(b.pending) > 0 {
		b.mu.Unlock()
		return Handoff{}, ErrPending
	}
	if len(b.selection) == 0 {
		b.mu.Unlock()
		return Handoff{}, ErrNothingSelected
	}

	seats := make([]model.Seat, 0, len(b.selection))
	for _, id := range b.selectionLocked() {
		seats = append(seats, b.seats[id].seat)
	}
	quoted, subtotal := b.cfg.Pricing.quote(seats)
	h := Handoff{
		ScreeningID:     b.cfg.ScreeningID,
		UserID:          b.userID,
		ReservationIDs:  b.reservationIDsLocked(),
		Seats:           quoted,
		SubtotalCents:   subtotal,
		ServiceFeeCents: b.cfg.Pricing.ServiceFeeCents,
		TotalCents:      subtotal + b.cfg.Pricing.ServiceFeeCents,
	}
	if b.expiresAt != nil {
		t := *b.expiresAt
		h.ExpiresAt = &t
	}
	b.proceeding = true
	b.shutdownLocked()
	b.mu.Unlock()

	b.detach()
	b.log.InfoContext(ctx, "seat board handed off to payment", "seats", len(h.Seats), "total_cents", h.TotalCents)
	return h, nil
}

// Close ends the visit.  Unless the board was handed off to payment the
// user's holds are released; a failure is logged and never returned.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	holding := len(b.pending) > 0 || len(b.selection) > 0
	for _, st := range b.seats {
		if st.status == model.StatusHeldByMe {
			holding = true
		}
	}
	b.shutdownLocked()
	b.mu.Unlock()

	b.detach()
	if holding {
		if err := b.api.CancelAllHolds(ctx, b.cfg.ScreeningID); err != nil {
			b.log.WarnContext(ctx, "cancel holds on close failed", "error", err)
		}
	}
	b.log.InfoContext(ctx, "seat board closed", "released", holding)
	return nil
}

// Closed reports whether the board has been closed or handed off.
func (b *Board) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Reconnect restarts the live channel after the user asks to retry and
// reloads availability once it is up.  An open subscription is kept.
func (b *Board) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBoardClosed
	}
	b.mu.Unlock()

	b.feed.Connect(b.cfg.ScreeningID, b.cfg.Credential)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBoardClosed
	}
	b.scheduleResyncLocked()
	b.log.InfoContext(ctx, "live channel reconnect requested", "state", string(b.conn))
	return nil
}

func (b *Board) shutdownLocked() {
	b.closed = true
	b.countdownGen++
	if b.expiryTimer != nil {
		b.expiryTimer.Stop()
		b.expiryTimer = nil
	}
	if b.resyncTimer != nil {
		b.resyncTimer.Stop()
		b.resyncTimer = nil
	}
	b.emitLocked(nil)
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// detach stops the live feed.  It must run without b.mu held because
// Disconnect waits for in-flight event deliveries.
func (b *Board) detach() {
	b.feed.Disconnect()
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}

func (b *Board) handleEvent(ev live.SeatEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	st, ok := b.seats[ev.SeatID]
	if !ok {
		b.log.Debug("event for unknown seat", "seat_id", ev.SeatID)
		return
	}
	if b.userID == 0 && ev.IsMine && ev.HeldBy != 0 {
		b.userID = ev.HeldBy
	}
	mine := ev.IsMine || (b.userID != 0 && ev.HeldBy == b.userID)
	status := Derive(ev.Status, mine)

	if status == st.status && (ev.ExpiresAt == nil || sameTime(st.expiresAt, ev.ExpiresAt)) {
		return
	}

	var notice *Notice
	wasMine := st.status == model.StatusHeldByMe
	if wasMine && b.userID == 0 && ev.PreviouslyHeldBy != 0 {
		// the seat was ours, so its previous holder is us
		b.userID = ev.PreviouslyHeldBy
	}
	switch status {
	case model.StatusHeldByMe:
		exp := ev.ExpiresAt
		if exp == nil {
			exp = st.expiresAt
		}
		b.setSeatLocked(st, status, ev.HeldBy, exp)
		if len(st.reservationIDs) == 0 {
			st.reservationIDs = []int64{st.seat.ID}
		}
	case model.StatusAvailable:
		b.setSeatLocked(st, status, 0, nil)
		if wasMine && ev.PreviouslyHeldBy != 0 && ev.PreviouslyHeldBy == b.userID {
			notice = b.noticeLocked(NoticeHoldExpired, "Your hold on seat "+st.seat.Label()+" has expired", st.seat.ID)
		}
	default:
		b.setSeatLocked(st, status, ev.HeldBy, ev.ExpiresAt)
	}
	b.recomputeCountdownLocked()
	b.emitLocked(notice)
}

func (b *Board) handleConnState(s model.ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.conn == s {
		return
	}
	b.conn = s
	if s == model.ConnConnected {
		// events may have been missed while the channel was down
		if b.everUp {
			b.scheduleResyncLocked()
		}
		b.everUp = true
	}
	b.emitLocked(nil)
}

func (b *Board) scheduleResyncLocked() {
	if b.resyncTimer != nil || b.closed {
		return
	}
	b.resyncTimer = b.clock.AfterFunc(b.cfg.ResyncDelay, func() {
		b.mu.Lock()
		b.resyncTimer = nil
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CallTimeout)
		defer cancel()
		b.resync(ctx)
	})
}

// resync reloads the snapshot.  Seats changed after the request was
// issued keep their newer local state.
func (b *Board) resync(ctx context.Context) {
	b.mu.Lock()
	issued := b.version
	b.mu.Unlock()

	items, err := b.api.GetAvailability(ctx, b.cfg.ScreeningID, b.cfg.Credential != "")

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if err != nil {
		b.log.WarnContext(ctx, "availability resync failed", "error", err)
		return
	}
	b.applySnapshotLocked(items, issued)
	b.emitLocked(nil)
}

func (b *Board) applySnapshotLocked(items []reservation.SeatAvailability, issued uint64) {
	for _, it := range items {
		if b.userID == 0 && it.IsMine && it.HeldBy != 0 {
			b.userID = it.HeldBy
		}
	}
	for _, it := range items {
		st, ok := b.seats[it.Seat.ID]
		if !ok {
			st = &seatState{seat: it.Seat, status: model.StatusAvailable}
			b.seats[it.Seat.ID] = st
			b.order = append(b.order, it.Seat.ID)
		}
		if it.Seat.RowLabel != "" || it.Seat.SeatNumber != 0 {
			st.seat = it.Seat
		}
		if st.version > issued {
			continue
		}
		if _, busy := b.pending[it.Seat.ID]; busy {
			continue
		}
		mine := it.IsMine || (b.userID != 0 && it.HeldBy == b.userID)
		status := Derive(it.Status, mine)
		if status == st.status && sameTime(st.expiresAt, it.ExpiresAt) {
			continue
		}
		b.setSeatLocked(st, status, it.HeldBy, it.ExpiresAt)
		if status == model.StatusHeldByMe && len(st.reservationIDs) == 0 {
			st.reservationIDs = []int64{st.seat.ID}
		}
	}
	b.recomputeCountdownLocked()
}

// setSeatLocked is the only place seat status changes.  It keeps the
// selection equal to the set of seats held by the user.
func (b *Board) setSeatLocked(st *seatState, status model.SeatStatus, heldBy int64, exp *time.Time) {
	b.version++
	st.version = b.version
	st.status = status
	st.heldBy = heldBy
	if exp != nil {
		t := *exp
		st.expiresAt = &t
	} else {
		st.expiresAt = nil
	}
	if status == model.StatusHeldByMe {
		b.selection[st.seat.ID] = struct{}{}
		return
	}
	delete(b.selection, st.seat.ID)
	st.reservationIDs = nil
	if status == model.StatusAvailable {
		st.heldBy = 0
	}
}

// releaseOwnLocked marks every own hold available and returns the seats.
func (b *Board) releaseOwnLocked() []int64 {
	var released []int64
	for _, id := range b.order {
		st := b.seats[id]
		if st.status == model.StatusHeldByMe {
			b.setSeatLocked(st, model.StatusAvailable, 0, nil)
			released = append(released, id)
		}
	}
	b.recomputeCountdownLocked()
	return released
}

// recomputeCountdownLocked tracks the earliest expiry among own holds.
func (b *Board) recomputeCountdownLocked() {
	var earliest *time.Time
	for id := range b.selection {
		exp := b.seats[id].expiresAt
		if exp != nil && (earliest == nil || exp.Before(*earliest)) {
			earliest = exp
		}
	}
	if sameTime(b.expiresAt, earliest) && (earliest == nil || b.expiryTimer != nil) {
		return
	}
	if b.expiryTimer != nil {
		b.expiryTimer.Stop()
		b.expiryTimer = nil
	}
	b.countdownGen++
	if earliest == nil {
		b.expiresAt = nil
		return
	}
	t := *earliest
	b.expiresAt = &t
	gen := b.countdownGen
	b.expiryTimer = b.clock.AfterFunc(t.Sub(b.clock.Now()), func() { b.expire(gen) })
}

// expire runs when the countdown reaches zero.
func (b *Board) expire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.countdownGen {
		b.mu.Unlock()
		return
	}
	b.expiryTimer = nil
	released := b.releaseOwnLocked()
	b.emitLocked(b.noticeLocked(NoticeHoldExpired, "Your reservation has expired", released...))
	b.mu.Unlock()

	b.cancelAll("hold expired")
}

// cancelAll is the best effort cancel used by timers and late acks.
func (b *Board) cancelAll(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CallTimeout)
	defer cancel()
	if err := b.api.CancelAllHolds(ctx, b.cfg.ScreeningID); err != nil {
		b.log.Warn("best effort cancel failed", "reason", reason, "error", err)
	}
}

// claimedLocked counts held seats plus reserve requests in flight.
func (b *Board) claimedLocked() int {
	n := len(b.selection)
	for _, adding := range b.pending {
		if adding {
			n++
		}
	}
	return n
}

func (b *Board) selectionLocked() []int64 {
	ids := make([]int64, 0, len(b.selection))
	for id := range b.selection {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Board) reservationIDsLocked() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, seatID := range b.selectionLocked() {
		for _, id := range b.seats[seatID].reservationIDs {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (b *Board) noticeLocked(kind NoticeKind, msg string, seatIDs ...int64) *Notice {
	return &Notice{Kind: kind, SeatIDs: seatIDs, Message: msg, At: b.clock.Now()}
}

func (b *Board) viewLocked() View {
	v := View{
		ScreeningID: b.cfg.ScreeningID,
		TicketCount: b.cfg.TicketCount,
		Seats:       make([]SeatView, 0, len(b.order)),
		Selection:   b.selectionLocked(),
		Connection:  b.conn,
		Remaining:   FormatRemaining(0),
		Closed:      b.closed,
	}
	claimed := b.claimedLocked()
	for _, id := range b.order {
		st := b.seats[id]
		_, selected := b.selection[id]
		_, pending := b.pending[id]
		sv := SeatView{
			SeatID:     id,
			Label:      st.seat.Label(),
			RowLabel:   st.seat.RowLabel,
			SeatNumber: st.seat.SeatNumber,
			SeatType:   st.seat.Type(),
			Status:     st.status,
			Selected:   selected,
			Pending:    pending,
			PriceCents: b.cfg.Pricing.PriceOf(st.seat),
		}
		if st.expiresAt != nil {
			t := *st.expiresAt
			sv.ExpiresAt = &t
		}
		switch {
		case b.closed || pending:
		case st.status == model.StatusHeldByMe:
			sv.Clickable = true
		case st.status == model.StatusAvailable:
			sv.Clickable = claimed < b.cfg.TicketCount
		}
		if selected {
			v.SubtotalCents += sv.PriceCents
		}
		v.Seats = append(v.Seats, sv)
	}
	if b.expiresAt != nil {
		t := *b.expiresAt
		v.ExpiresAt = &t
		remaining := t.Sub(b.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		v.RemainingSeconds = int(remaining / time.Second)
		v.Remaining = FormatRemaining(remaining)
	}
	return v
}

func (b *Board) emitLocked(n *Notice) {
	if len(b.subs) == 0 {
		return
	}
	u := Update{View: b.viewLocked(), Notice: n}
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
