package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bistbroker/internal/algolab"
	"bistbroker/internal/domain"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
)

const writeTimeout = 10 * time.Second

// Handler consumes decoded messages for one channel. Handlers run on the
// read loop goroutine and must not block.
type Handler func(Message)

// Config controls the streaming connection.
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	PingInterval         time.Duration
	AuthTimeout          time.Duration
}

type subKey struct {
	Channel domain.Channel
	Key     string
}

// Client is the streaming connection to the brokerage. It authenticates
// with session credentials, replays the full subscription set before a
// reconnected session is announced as connected, and dispatches decoded
// messages to per-channel handlers.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	creds    algolab.Credentials
	subs     map[subKey]domain.Subscription
	handlers map[domain.Channel][]Handler
	attempts int
	closing  bool
	gen      int // connection generation; stale loops exit on mismatch
	done     chan struct{}

	errs chan error
}

// NewClient builds a streaming client. Connect must be called before any
// traffic flows. Unset timing fields fall back to safe defaults so a partial
// Config never produces a zero-interval ticker.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.AuthTimeout},
		log:      log,
		state:    StateDisconnected,
		subs:     make(map[subKey]domain.Subscription),
		handlers: make(map[domain.Channel][]Handler),
		errs:     make(chan error, 4),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is authenticated and live.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Errs delivers terminal connection errors: authentication rejection and
// reconnect exhaustion.
func (c *Client) Errs() <-chan error { return c.errs }

// OnMessage registers a handler for one channel. Registration is allowed at
// any time, including before Connect.
func (c *Client) OnMessage(channel domain.Channel, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[channel] = append(c.handlers[channel], h)
}

// Subscriptions returns a snapshot of the live subscription set.
func (c *Client) Subscriptions() []domain.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	return out
}

// Connect dials the endpoint, performs the authentication handshake, and
// starts the read and ping loops. An authentication rejection is terminal:
// no reconnect is attempted.
func (c *Client) Connect(ctx context.Context, creds algolab.Credentials) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return algolab.NewError(algolab.KindConnection, "stream already connected")
	}
	c.creds = creds
	c.closing = false
	c.attempts = 0
	c.done = make(chan struct{})
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dialAndHandshake(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect closes the connection gracefully and suppresses reconnection.
// It is safe to call at any time.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.log.Info("stream disconnected")
}

// Subscribe adds a channel/key pair to the live set and, when connected,
// sends the subscribe frame. The pair stays in the set either way so a later
// reconnect replays it.
func (c *Client) Subscribe(channel domain.Channel, key string) error {
	c.mu.Lock()
	c.subs[subKey{channel, key}] = domain.Subscription{Channel: channel, Key: key}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	if err := c.writeEnvelope(conn, Envelope{Type: TypeSubscribe, Channel: channel, Key: key, Timestamp: time.Now().UnixMilli()}); err != nil {
		return algolab.Classify(err)
	}
	c.confirmSubscription(channel, key)
	return nil
}

// Unsubscribe removes a channel/key pair from the live set and, when
// connected, tells the endpoint.
func (c *Client) Unsubscribe(channel domain.Channel, key string) error {
	c.mu.Lock()
	delete(c.subs, subKey{channel, key})
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	if err := c.writeEnvelope(conn, Envelope{Type: TypeUnsubscribe, Channel: channel, Key: key, Timestamp: time.Now().UnixMilli()}); err != nil {
		return algolab.Classify(err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// dialAndHandshake dials, authenticates, and replays the subscription set.
// Only after the replay does the client become CONNECTED, so no consumer
// ever observes a connected stream with missing subscriptions.
func (c *Client) dialAndHandshake(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return algolab.Classify(err)
	}

	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.AuthTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(Envelope{Type: TypeAuth, Token: creds.Token, Hash: creds.Hash, Timestamp: time.Now().UnixMilli()}); err != nil {
		conn.Close()
		return algolab.Classify(err)
	}

	conn.SetReadDeadline(deadline)
	for {
		var resp Envelope
		if err := conn.ReadJSON(&resp); err != nil {
			conn.Close()
			return algolab.Classify(err)
		}
		if resp.Type == TypeAuthSuccess {
			break
		}
		if resp.Type == TypeAuthFailure {
			conn.Close()
			msg := resp.Error
			if msg == "" {
				msg = "stream authentication rejected"
			}
			return algolab.NewError(algolab.KindAuthentication, msg)
		}
		// Anything else before the auth result is noise; keep reading.
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	c.mu.Lock()
	subs := make([]domain.Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		if err := c.writeEnvelope(conn, Envelope{Type: TypeSubscribe, Channel: s.Channel, Key: s.Key, Timestamp: time.Now().UnixMilli()}); err != nil {
			conn.Close()
			return algolab.Classify(err)
		}
		c.confirmSubscription(s.Channel, s.Key)
	}

	c.mu.Lock()
	if c.closing {
		// Disconnect raced the handshake; the teardown wins.
		c.mu.Unlock()
		conn.Close()
		return algolab.NewError(algolab.KindConnection, "stream closed during connect")
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.gen++
	gen := c.gen
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen, done)

	c.log.Info("stream connected", "subscriptions", len(subs))
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()

			c.mu.Lock()
			stale := gen != c.gen
			closing := c.closing
			if !stale && !closing {
				c.state = StateReconnecting
				c.conn = nil
			}
			c.mu.Unlock()

			if stale || closing {
				return
			}
			c.log.Warn("stream connection lost", "err", err)
			go c.reconnectLoop()
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen int, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			live := gen == c.gen && c.state == StateConnected
			c.mu.Unlock()
			if !live {
				return
			}
			if err := c.writeEnvelope(conn, Envelope{Type: TypePing, Timestamp: time.Now().UnixMilli()}); err != nil {
				c.log.Warn("stream ping failed", "err", err)
				return
			}
		}
	}
}

// reconnectLoop redials with linearly growing delay until it succeeds or the
// attempt budget is spent. Authentication rejection aborts immediately.
func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		done := c.done
		c.mu.Unlock()

		if attempt > c.cfg.MaxReconnectAttempts {
			c.setState(StateDisconnected)
			err := algolab.NewError(algolab.KindConnection,
				fmt.Sprintf("reconnect budget exhausted after %d attempts", c.cfg.MaxReconnectAttempts))
			c.log.Error("stream gave up reconnecting", "attempts", c.cfg.MaxReconnectAttempts)
			c.emit(err)
			return
		}

		delay := time.Duration(attempt) * c.cfg.ReconnectBaseDelay
		c.log.Info("stream reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-done:
			return
		case <-time.After(delay):
		}

		err := c.dialAndHandshake(context.Background())
		if err == nil {
			return
		}

		var cerr *algolab.Error
		if errors.As(err, &cerr) && cerr.Kind == algolab.KindAuthentication {
			c.setState(StateDisconnected)
			c.log.Error("stream authentication rejected, not retrying", "err", err)
			c.emit(cerr)
			return
		}
		c.log.Warn("stream reconnect attempt failed", "attempt", attempt, "err", err)
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func (c *Client) dispatch(env Envelope) {
	msg, err := decode(env)
	if err != nil {
		c.log.Warn("dropping malformed stream message", "type", env.Type, "err", err)
		return
	}

	switch m := msg.(type) {
	case Pong:
		return
	case StreamError:
		c.log.Error("stream error frame", "message", m.Message)
		return
	case Unknown:
		c.log.Warn("dropping unrecognized stream message", "type", m.Type)
		return
	}

	ch := channelOf(env)
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[ch]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (c *Client) writeEnvelope(conn *websocket.Conn, env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(env)
}

func (c *Client) confirmSubscription(channel domain.Channel, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.subs[subKey{channel, key}]; ok {
		s.LastConfirmedAt = time.Now()
		c.subs[subKey{channel, key}] = s
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) emit(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
