// Package streamclient maintains a live connection to a session's event
// stream across transient failures. It is a consumer-side state machine with
// a fixed-delay reconnection schedule and a bounded attempt budget.
package streamclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/avelis/stepstream/internal/fault"
)

const moduleID = "stream-client"

// State is the connection state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateOpen         State = "OPEN"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
	StateClosed       State = "CLOSED"
)

// Conn abstracts the underlying websocket so tests can substitute fakes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a connection to a stream endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// Config controls connection and reconnection behavior.
type Config struct {
	// URL is the stream endpoint, e.g. "ws://host:8080/ws/stream".
	URL string
	// DelaySchedule is consumed one entry per reconnection attempt; the last
	// entry repeats once the schedule is exhausted.
	DelaySchedule []time.Duration
	// MaxAttempts bounds consecutive reconnection attempts regardless of the
	// schedule's length.
	MaxAttempts int
	// Dial replaces the default websocket dialer; used in tests.
	Dial Dialer
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultDelaySchedule is applied when no schedule is configured.
var DefaultDelaySchedule = []time.Duration{3 * time.Second, 9 * time.Second, 15 * time.Second}

// Client owns one live connection to a session's event stream.
type Client struct {
	cfg  Config
	dial Dialer
	log  *slog.Logger

	mu            sync.Mutex
	state         State
	attempts      int
	everConnected bool
	conn          Conn

	closed    chan struct{}
	closeOnce sync.Once

	onEvent        []func(Event)
	onError        []func(error)
	onReconnecting []func(attempt int)
	onReconnected  []func()
}

// New creates a client. Callbacks must be registered before Connect.
func New(cfg Config) *Client {
	if len(cfg.DelaySchedule) == 0 {
		cfg.DelaySchedule = DefaultDelaySchedule
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = len(cfg.DelaySchedule)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	dial := cfg.Dial
	if dial == nil {
		dial = dialWebsocket
	}
	return &Client{
		cfg:    cfg,
		dial:   dial,
		log:    log,
		state:  StateDisconnected,
		closed: make(chan struct{}),
	}
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closed")
}

func dialWebsocket(ctx context.Context, endpoint string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

// OnEvent registers a stream event callback.
func (c *Client) OnEvent(fn func(Event)) { c.onEvent = append(c.onEvent, fn) }

// OnError registers an error callback.
func (c *Client) OnError(fn func(error)) { c.onError = append(c.onError, fn) }

// OnReconnecting registers a callback fired before each reconnection attempt.
func (c *Client) OnReconnecting(fn func(attempt int)) {
	c.onReconnecting = append(c.onReconnecting, fn)
}

// OnReconnected registers a callback fired on successful recovery, distinct
// from the initial connect.
func (c *Client) OnReconnected(fn func()) { c.onReconnected = append(c.onReconnected, fn) }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the connection to the given stream and returns once it
// is actually open, not merely attempted. If all attempts are exhausted
// before a connection ever opens, the reconnection failure is returned. After
// a successful open the client keeps the connection alive in the background.
func (c *Client) Connect(ctx context.Context, streamID string) error {
	endpoint, err := c.endpoint(streamID)
	if err != nil {
		return fault.Wrap(moduleID, fault.CodeReconnectionFailed, "invalid stream endpoint", err)
	}

	firstOpen := make(chan error, 1)
	go c.run(ctx, endpoint, firstOpen)

	select {
	case err := <-firstOpen:
		return err
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	case <-c.closed:
		return fault.New(moduleID, fault.CodeReconnectionFailed, "client closed before connecting", nil)
	}
}

func (c *Client) endpoint(streamID string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream URL: %w", err)
	}
	q := u.Query()
	q.Set("stream_id", streamID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// run is the single driver loop owning the retry counter and backoff timer.
// Reconnection is never triggered from an error handler; every transition
// funnels back through this loop, so at most one attempt is ever in flight.
func (c *Client) run(ctx context.Context, endpoint string, firstOpen chan<- error) {
	for {
		if c.isClosed() {
			return
		}
		c.setState(StateConnecting)

		conn, err := c.dial(ctx, endpoint)
		if err == nil {
			c.opened(conn, firstOpen)
			err = c.readLoop(ctx, conn)
			_ = conn.Close()
			c.clearConn()
			if c.isClosed() || ctx.Err() != nil {
				c.setState(StateClosed)
				return
			}
			c.log.Warn("stream connection lost", "error", err)
		} else {
			if c.isClosed() || ctx.Err() != nil {
				c.setState(StateClosed)
				return
			}
			c.log.Warn("stream connection attempt failed", "error", err)
		}

		attempt, exhausted := c.nextAttempt()
		if exhausted {
			c.setState(StateFailed)
			failure := fault.New(moduleID, fault.CodeReconnectionFailed,
				fmt.Sprintf("giving up after %d reconnection attempts", c.cfg.MaxAttempts), nil)
			c.deliverError(failure)
			c.rejectFirstOpen(firstOpen, failure)
			return
		}

		c.setState(StateReconnecting)
		c.fireReconnecting(attempt)

		delay := c.delayFor(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.closed:
			timer.Stop()
			c.setState(StateClosed)
			return
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateClosed)
			return
		}
	}
}

// nextAttempt consumes one reconnection attempt. It reports exhaustion once
// MaxAttempts have already been spent since the last successful open. Only
// the run loop calls this, so attempts are never counted twice for one error.
func (c *Client) nextAttempt() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts >= c.cfg.MaxAttempts {
		return c.attempts, true
	}
	c.attempts++
	return c.attempts, false
}

// delayFor returns the schedule entry for an attempt; the last entry repeats
// past the end of the schedule.
func (c *Client) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(c.cfg.DelaySchedule) {
		idx = len(c.cfg.DelaySchedule) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.cfg.DelaySchedule[idx]
}

// opened records a successful open: the attempt counter resets to zero and
// observers learn whether this was a first connect or a recovery.
func (c *Client) opened(conn Conn, firstOpen chan<- error) {
	c.mu.Lock()
	wasConnected := c.everConnected
	c.everConnected = true
	c.attempts = 0
	c.state = StateOpen
	c.conn = conn
	c.mu.Unlock()

	if wasConnected {
		c.log.Info("stream reconnected")
		for _, fn := range c.onReconnected {
			c.invoke(func() { fn() })
		}
		return
	}
	c.log.Info("stream connected")
	select {
	case firstOpen <- nil:
	default:
	}
}

// rejectFirstOpen resolves the pending Connect with the terminal failure; a
// no-op when already connected once.
func (c *Client) rejectFirstOpen(firstOpen chan<- error, err error) {
	c.mu.Lock()
	ever := c.everConnected
	c.mu.Unlock()
	if ever {
		return
	}
	select {
	case firstOpen <- err:
	default:
	}
}

func (c *Client) fireReconnecting(attempt int) {
	for _, fn := range c.onReconnecting {
		c.invoke(func() { fn(attempt) })
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed && s != StateClosed {
		return
	}
	c.state = s
}

func (c *Client) clearConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close stops the client: the active connection is closed, any pending
// backoff timer is cancelled, and no further reconnection attempts fire.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.state = StateClosed
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// deliverError fans an error out to every error callback, isolating panics so
// one bad subscriber cannot block the rest.
func (c *Client) deliverError(err error) {
	for _, fn := range c.onError {
		c.invoke(func() { fn(err) })
	}
}

func (c *Client) deliverEvent(ev Event) {
	for _, fn := range c.onEvent {
		c.invoke(func() { fn(ev) })
	}
}

func (c *Client) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("stream callback panicked", "panic", r)
		}
	}()
	fn()
}
