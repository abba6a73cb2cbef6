package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nhle/progresstrack/internal/model"
)

// Credentials supplies the bearer token used to authenticate the
// websocket handshake. The transport has no 401-and-retry equivalent,
// so an expired credential is refreshed before dialing instead of
// relying on the server to reject it.
type Credentials interface {
	Token() string
	Expired() bool
	Refresh(ctx context.Context) (string, error)
}

// Config controls the channel's endpoint and reconnection behavior.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string

	// ReconnectDelay is the base delay between reconnection attempts.
	// The effective delay is ReconnectDelay multiplied by the attempt
	// number.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds the reconnection loop. After this many
	// failed attempts the channel gives up until Connect is called again.
	MaxReconnectAttempts int

	// HandshakeTimeout bounds a single dial attempt.
	HandshakeTimeout time.Duration
}

// withDefaults fills unset config fields.
func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// subscriber is one registered callback with its registration id.
type subscriber[T any] struct {
	id int
	fn func(T)
}

// Channel maintains the persistent notification connection: it dials the
// server, subscribes to the user's topics, dispatches inbound events to
// registered callbacks, and reconnects with a bounded backoff when the
// transport drops. Transport failures never propagate as errors to
// callback owners; they surface only as connection-state changes.
type Channel struct {
	cfg    Config
	creds  Credentials
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	userID    string
	stopCh    chan struct{}
	closed    bool
	connected bool
	attempts  int

	cbMu      sync.Mutex
	nextID    int
	notifSubs []subscriber[model.NotificationEvent]
	countSubs []subscriber[int]
	stateSubs []subscriber[model.ConnectionState]
}

// NewChannel creates a realtime channel. Nothing connects until Connect
// is called.
func NewChannel(cfg Config, creds Credentials, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg.withDefaults(),
		creds:  creds,
		logger: logger,
	}
}

// OnNotification registers a callback for notification events (new
// notifications and read/deleted status updates). It returns an
// unsubscribe handle. Callbacks run in registration order; a panicking
// callback never prevents the others from running.
func (c *Channel) OnNotification(fn func(model.NotificationEvent)) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.nextID++
	id := c.nextID
	c.notifSubs = append(c.notifSubs, subscriber[model.NotificationEvent]{id: id, fn: fn})
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		c.notifSubs = removeSubscriber(c.notifSubs, id)
	}
}

// OnUnreadCount registers a callback for unread-count pushes.
func (c *Channel) OnUnreadCount(fn func(int)) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.nextID++
	id := c.nextID
	c.countSubs = append(c.countSubs, subscriber[int]{id: id, fn: fn})
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		c.countSubs = removeSubscriber(c.countSubs, id)
	}
}

// OnConnectionState registers a callback for connection-state changes.
func (c *Channel) OnConnectionState(fn func(model.ConnectionState)) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.nextID++
	id := c.nextID
	c.stateSubs = append(c.stateSubs, subscriber[model.ConnectionState]{id: id, fn: fn})
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		c.stateSubs = removeSubscriber(c.stateSubs, id)
	}
}

// State returns the current connection state.
func (c *Channel) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ConnectionState{
		Connected:         c.connected,
		ReconnectAttempts: c.attempts,
	}
}

// Connect dials the server and subscribes to the user's topics. The
// topic subscriptions are written before Connect returns, so callbacks
// registered beforehand cannot miss an event to a registration race.
//
// If the initial dial fails, the error is returned and the bounded
// reconnection loop continues in the background; once it is exhausted
// the channel stays down until Connect is called again.
func (c *Channel) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.stopCh != nil {
		// Re-arm: stop any previous connection or reconnect loop.
		close(c.stopCh)
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stopCh = make(chan struct{})
	c.closed = false
	c.connected = false
	c.userID = userID
	c.attempts = 0
	stopCh := c.stopCh
	c.mu.Unlock()

	if err := c.dial(ctx, stopCh); err != nil {
		go c.reconnectLoop(stopCh)
		return err
	}
	return nil
}

// Disconnect closes the connection. It is not a failure: no reconnection
// is attempted until Connect is called again.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	if wasConnected {
		c.notifyState()
	}
}

// dial performs one connection attempt: refresh the credential if it is
// already expired, complete the websocket handshake, and write the
// connect and subscribe frames before handing the socket to the read
// loop. stopCh identifies the connection generation the attempt belongs
// to; a dial finishing after its generation was superseded abandons its
// socket instead of installing it.
func (c *Channel) dial(ctx context.Context, stopCh chan struct{}) error {
	token := c.creds.Token()
	if token == "" || c.creds.Expired() {
		fresh, err := c.creds.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("refreshing credential before connect: %w", err)
		}
		token = fresh
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dialing %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	userID := c.userID
	if c.closed || c.stopCh != stopCh {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.mu.Unlock()

	if err := conn.WriteJSON(Frame{Type: frameConnect, ID: uuid.NewString()}); err != nil {
		conn.Close()
		return fmt.Errorf("sending connect frame: %w", err)
	}
	for _, suffix := range []string{topicNotifications, topicUnreadCount, topicStatusUpdates} {
		dest := userTopic(userID, suffix)
		if err := conn.WriteJSON(Frame{Type: frameSubscribe, Destination: dest}); err != nil {
			conn.Close()
			return fmt.Errorf("subscribing to %s: %w", dest, err)
		}
	}

	c.mu.Lock()
	if c.closed || c.stopCh != stopCh {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("realtime channel connected", "url", c.cfg.URL)
	c.notifyState()

	go c.readLoop(conn)
	return nil
}

// readLoop consumes frames until the connection drops.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}

		var frame Frame
		if uerr := json.Unmarshal(data, &frame); uerr != nil {
			c.logger.Warn("discarding malformed frame", "error", uerr)
			continue
		}
		if frame.Type != frameMessage {
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch routes a message frame to the callbacks of its topic.
func (c *Channel) dispatch(frame Frame) {
	switch topicSuffix(frame.Destination) {
	case topicNotifications, topicStatusUpdates:
		var event model.NotificationEvent
		if err := json.Unmarshal(frame.Payload, &event); err != nil {
			c.logger.Warn("discarding malformed notification event", "error", err)
			return
		}
		c.cbMu.Lock()
		subs := append([]subscriber[model.NotificationEvent]{}, c.notifSubs...)
		c.cbMu.Unlock()
		fanout(c.logger, subs, event)

	case topicUnreadCount:
		var payload struct {
			UnreadCount int `json:"unreadCount"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Warn("discarding malformed count payload", "error", err)
			return
		}
		c.cbMu.Lock()
		subs := append([]subscriber[int]{}, c.countSubs...)
		c.cbMu.Unlock()
		fanout(c.logger, subs, payload.UnreadCount)

	default:
		c.logger.Warn("message for unknown destination", "destination", frame.Destination)
	}
}

// handleDrop reacts to a transport failure on the given connection and
// starts the reconnection loop, unless the drop was an explicit
// Disconnect or the connection was already superseded.
func (c *Channel) handleDrop(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	stopCh := c.stopCh
	c.mu.Unlock()

	c.logger.Warn("realtime connection lost", "error", err)
	c.notifyState()
	c.reconnectLoop(stopCh)
}

// reconnectLoop retries the connection with a linearly growing delay
// (base delay multiplied by the attempt number) up to the configured
// maximum. Exhausting the budget is silent: the channel stays
// disconnected until Connect is called again.
func (c *Channel) reconnectLoop(stopCh chan struct{}) {
	for {
		c.mu.Lock()
		if c.closed || c.stopCh != stopCh {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.cfg.MaxReconnectAttempts {
			c.mu.Unlock()
			c.logger.Warn("reconnect budget exhausted, giving up",
				"attempts", c.cfg.MaxReconnectAttempts)
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-time.After(c.cfg.ReconnectDelay * time.Duration(attempt)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout+requestBudget)
		err := c.dial(ctx, stopCh)
		cancel()
		if err == nil {
			return
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		c.notifyState()
	}
}

// requestBudget covers the credential refresh a reconnect attempt may
// need before its handshake.
const requestBudget = 30 * time.Second

// notifyState fans the current connection state out to subscribers.
func (c *Channel) notifyState() {
	state := c.State()
	c.cbMu.Lock()
	subs := append([]subscriber[model.ConnectionState]{}, c.stateSubs...)
	c.cbMu.Unlock()
	fanout(c.logger, subs, state)
}

// fanout invokes callbacks in registration order, isolating panics so
// one misbehaving subscriber cannot starve the rest.
func fanout[T any](logger *slog.Logger, subs []subscriber[T], value T) {
	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("subscriber callback panicked", "panic", r)
				}
			}()
			sub.fn(value)
		}()
	}
}

// removeSubscriber drops the subscriber with the given id, preserving
// registration order.
func removeSubscriber[T any](subs []subscriber[T], id int) []subscriber[T] {
	out := subs[:0]
	for _, sub := range subs {
		if sub.id != id {
			out = append(out, sub)
		}
	}
	return out
}
