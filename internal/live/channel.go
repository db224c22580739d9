// Package live maintains the per-screening seat event subscription.
//
// A Channel moves between disconnected, connecting and connected.  Any
// closure the client did not ask for schedules a reconnect with
// exponential backoff; after the last allowed attempt the channel stays
// disconnected until Connect is called again.  Disconnect cancels every
// pending timer and guarantees that no listener is invoked once it
// returns.
package live

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iliyamo/cinema-seat-board/internal/model"
)

const (
	defaultBaseDelay   = 2 * time.Second
	defaultMaxAttempts = 5
	defaultStableAfter = 30 * time.Second
	defaultPongWait    = 60 * time.Second
	writeWait          = 10 * time.Second
	maxMessageSize     = 512 * 1024
)

// Listener receives channel notifications.  Callbacks run on channel
// goroutines, one at a time, and must not call Disconnect.
type Listener struct {
	OnEvent func(SeatEvent)
	OnState func(model.ConnectionState)
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option { return func(c *Channel) { c.dialer = d } }

// WithScheduler replaces the timer source used for reconnects.
func WithScheduler(s Scheduler) Option { return func(c *Channel) { c.sched = s } }

// WithLogger sets the channel logger.
func WithLogger(l *slog.Logger) Option { return func(c *Channel) { c.log = l } }

// WithBackoff sets the first reconnect delay and the number of attempts
// made before giving up.
func WithBackoff(base time.Duration, maxAttempts int) Option {
	return func(c *Channel) {
		c.baseDelay = base
		c.maxAttempts = maxAttempts
	}
}

// WithStableAfter sets how long a connection has to stay up before the
// attempt counter is reset.  Zero resets it as soon as a dial succeeds.
func WithStableAfter(d time.Duration) Option { return func(c *Channel) { c.stableAfter = d } }

// WithPongWait sets the read deadline extended by every pong.  Pings are
// sent at nine tenths of it.
func WithPongWait(d time.Duration) Option { return func(c *Channel) { c.pongWait = d } }

// Channel is one live subscription.  The zero value is not usable; use
// NewChannel.
type Channel struct {
	baseURL     string
	dialer      Dialer
	sched       Scheduler
	log         *slog.Logger
	baseDelay   time.Duration
	maxAttempts int
	stableAfter time.Duration
	pongWait    time.Duration

	mu          sync.Mutex
	state       model.ConnectionState
	screeningID int64
	credential  string
	gen         uint64
	attempts    int
	conn        Conn
	retry       Timer
	stable      Timer
	cancelDial  context.CancelFunc
	listeners   map[int]Listener
	nextID      int

	// deliverMu is held while listeners run so Disconnect can wait for
	// an in-flight delivery to finish.
	deliverMu sync.Mutex
}

// NewChannel creates a channel for the websocket service rooted at
// baseURL, e.g. "ws://localhost:8000".
func NewChannel(baseURL string, opts ...Option) *Channel {
	c := &Channel{
		baseURL:     strings.TrimRight(baseURL, "/"),
		dialer:      WebsocketDialer{},
		sched:       realScheduler{},
		log:         slog.Default(),
		baseDelay:   defaultBaseDelay,
		maxAttempts: defaultMaxAttempts,
		stableAfter: defaultStableAfter,
		pongWait:    defaultPongWait,
		state:       model.ConnDisconnected,
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamURL builds the subscription URL for a screening.
func StreamURL(baseURL string, screeningID int64, credential string) string {
	return strings.TrimRight(baseURL, "/") + "/ws/screenings/" +
		strconv.FormatInt(screeningID, 10) + "?token=" + url.QueryEscape(credential)
}

// Subscribe registers a listener and returns a function removing it.
func (c *Channel) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// State returns the current connection state.
func (c *Channel) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts since the last
// stable connection.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect subscribes to the screening.  It is a no-op while connected,
// or dialing, to the same screening.  A call made while waiting for a
// reconnect dials immediately and restarts the attempt budget.
func (c *Channel) Connect(screeningID int64, credential string) {
	c.mu.Lock()
	if c.screeningID == screeningID && c.retry == nil &&
		(c.state == model.ConnConnected || c.state == model.ConnConnecting) {
		c.mu.Unlock()
		return
	}
	old := c.resetLocked()
	c.screeningID = screeningID
	c.credential = credential
	c.state = model.ConnConnecting
	gen := c.gen
	c.mu.Unlock()

	closeConn(old, "resubscribing")
	go func() {
		c.emitState(gen, model.ConnConnecting)
		c.run(gen)
	}()
}

// Disconnect closes the subscription with a normal closure and cancels
// any pending reconnect.  When it returns no listener is running and
// none will be invoked until Connect is called again.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	old := c.resetLocked()
	c.screeningID = 0
	c.credential = ""
	c.state = model.ConnDisconnected
	c.mu.Unlock()

	closeConn(old, "client disconnect")

	c.deliverMu.Lock()
	c.deliverMu.Unlock()
}

// resetLocked invalidates every goroutine and timer of the current
// subscription and returns its connection for the caller to close.
func (c *Channel) resetLocked() Conn {
	c.gen++
	c.attempts = 0
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.stable != nil {
		c.stable.Stop()
		c.stable = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Channel) run(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	c.cancelDial = cancel
	target := StreamURL(c.baseURL, c.screeningID, c.credential)
	screeningID := c.screeningID
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, target)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		closeConn(conn, "stale dial")
		return
	}
	c.cancelDial = nil
	if err != nil {
		c.log.Warn("live channel dial failed", "screening_id", screeningID, "error", err)
		next := c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		c.emitState(gen, next)
		return
	}
	c.conn = conn
	c.state = model.ConnConnected
	if c.stableAfter <= 0 {
		c.attempts = 0
	} else {
		c.stable = c.sched.AfterFunc(c.stableAfter, func() { c.markStable(gen) })
	}
	c.mu.Unlock()

	c.log.Info("live channel connected", "screening_id", screeningID)
	c.emitState(gen, model.ConnConnected)

	done := make(chan struct{})
	go c.ping(conn, done)
	c.read(gen, conn)
	close(done)
}

func (c *Channel) markStable(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen && c.state == model.ConnConnected {
		c.attempts = 0
		c.stable = nil
	}
}

func (c *Channel) read(gen uint64, conn Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.closed(gen, conn, err)
			return
		}
		events, err := Decode(frame)
		if err != nil {
			c.log.Warn("live channel dropped message", "error", err, "raw", truncate(frame, 256))
		}
		if len(events) > 0 {
			c.emitEvents(gen, events)
		}
	}
}

func (c *Channel) ping(conn Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// closed handles the end of a connection the client did not close.
func (c *Channel) closed(gen uint64, conn Conn, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.stable != nil {
		c.stable.Stop()
		c.stable = nil
	}
	screeningID := c.screeningID
	next := c.scheduleReconnectLocked(gen)
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn("live channel closed unexpectedly", "screening_id", screeningID, "error", cause)
	c.emitState(gen, next)
}

// scheduleReconnectLocked arms the next reconnect, or gives up when the
// attempt budget is spent.  It returns the resulting state.
func (c *Channel) scheduleReconnectLocked(gen uint64) model.ConnectionState {
	if c.attempts >= c.maxAttempts {
		c.state = model.ConnDisconnected
		c.log.Warn("live channel giving up", "screening_id", c.screeningID, "attempts", c.attempts)
		return c.state
	}
	c.attempts++
	delay := c.baseDelay << (c.attempts - 1)
	c.state = model.ConnConnecting
	c.retry = c.sched.AfterFunc(delay, func() { c.reconnect(gen) })
	c.log.Info("live channel reconnect scheduled",
		"screening_id", c.screeningID, "attempt", c.attempts, "delay", delay)
	return c.state
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.gen++
	next := c.gen
	c.mu.Unlock()
	c.run(next)
}

func (c *Channel) snapshotListeners(gen uint64) ([]Listener, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil, false
	}
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	return ls, true
}

func (c *Channel) emitEvents(gen uint64, events []SeatEvent) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	ls, ok := c.snapshotListeners(gen)
	if !ok {
		return
	}
	for _, ev := range events {
		for _, l := range ls {
			if l.OnEvent != nil {
				l.OnEvent(ev)
			}
		}
	}
}

func (c *Channel) emitState(gen uint64, s model.ConnectionState) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	ls, ok := c.snapshotListeners(gen)
	if !ok {
		return
	}
	for _, l := range ls {
		if l.OnState != nil {
			l.OnState(s)
		}
	}
}

func closeConn(conn Conn, reason string) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
