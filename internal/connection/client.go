package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a reusable WebSocket connection to the exchange. Each
// ProbeLiveness that finds no live session dials a new one; Close ends
// the current session. Client implements Exchange and Streamer.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	// Output channels
	messages chan TimestampedMessage
	errors   chan error

	mu       sync.RWMutex
	sess     *session
	activity func()

	// Command/response correlation
	cmdID     atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan Response

	// Per-symbol stream consumers
	streamsMu sync.Mutex
	streams   map[string]chan TimestampedMessage
}

// session is one dialed WebSocket connection.
type session struct {
	conn *websocket.Conn
	done chan struct{}
	pong chan struct{}

	writeMu  sync.Mutex
	lastSeen atomic.Int64 // UnixNano of the last frame, ping or pong

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a new WebSocket client. Zero fields in cfg take the
// values from DefaultClientConfig.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultClientConfig()
	if len(cfg.Channels) == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}

	return &Client{
		cfg:      cfg,
		logger:   logger.With("component", "ws_client"),
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 16),
		pending:  make(map[int64]chan Response),
		streams:  make(map[string]chan TimestampedMessage),
	}
}

// SetActivityHook registers fn to be called on every inbound frame, ping
// and pong. It must not block.
func (c *Client) SetActivityHook(fn func()) {
	c.mu.Lock()
	c.activity = fn
	c.mu.Unlock()
}

// ProbeLiveness checks the REST status (when configured), dials if there
// is no live session, then does a ping/pong round trip.
func (c *Client) ProbeLiveness(ctx context.Context) error {
	if c.cfg.Status != nil {
		if err := c.cfg.Status.CheckStatus(ctx); err != nil {
			return fmt.Errorf("exchange status: %w", err)
		}
	}

	sess := c.current()
	if sess == nil {
		var err error
		if sess, err = c.dial(ctx); err != nil {
			return err
		}
	}
	return c.ping(ctx, sess)
}

// Subscribe sends a subscribe command for symbol and waits for the reply.
func (c *Client) Subscribe(ctx context.Context, symbol string) error {
	sess := c.current()
	if sess == nil {
		return ErrNotConnected
	}

	id := c.cmdID.Add(1)
	respCh := make(chan Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	cmd := Command{
		ID:  id,
		Cmd: "subscribe",
		Params: SubscribeParams{
			Channels: c.cfg.Channels,
			Symbol:   symbol,
		},
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	if err := c.send(sess, data); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("subscribe %s: %w", symbol, ErrTimeout)
	case <-sess.done:
		return ErrNotConnected
	case resp := <-respCh:
		if resp.Type == "error" {
			var errMsg ErrorMsg
			if err := json.Unmarshal(resp.Msg, &errMsg); err != nil {
				return fmt.Errorf("decode error response: %w", err)
			}
			return fmt.Errorf("%s: %s", errMsg.Code, errMsg.Message)
		}

		c.logger.Debug("subscribed", "symbol", symbol, "id", id)
		return nil
	}
}

// Stream delivers messages for symbol to emit until ctx is done. A later
// Stream for the same symbol replaces this one.
func (c *Client) Stream(ctx context.Context, symbol string, emit func(TimestampedMessage)) error {
	ch := make(chan TimestampedMessage, c.cfg.BufferSize)

	c.streamsMu.Lock()
	c.streams[symbol] = ch
	c.streamsMu.Unlock()

	defer func() {
		c.streamsMu.Lock()
		if c.streams[symbol] == ch {
			delete(c.streams, symbol)
		}
		c.streamsMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			emit(msg)
		}
	}
}

// Close gracefully closes the current session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	c.logger.Debug("websocket closing", "url", c.cfg.URL)
	return sess.close()
}

// Send writes raw bytes to the current session.
func (c *Client) Send(data []byte) error {
	sess := c.current()
	if sess == nil {
		return ErrNotConnected
	}
	return c.send(sess, data)
}

// Messages returns frames that are neither command responses nor claimed
// by a Stream.
func (c *Client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns a channel of session failures: read errors and stale
// keepalive.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns whether a session is live.
func (c *Client) IsConnected() bool {
	return c.current() != nil
}

func (c *Client) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// dial opens a new session and starts its read and keepalive loops.
func (c *Client) dial(ctx context.Context) (*session, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.Credentials != nil {
		u, err := url.Parse(c.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		signed, err := c.cfg.Credentials.Headers(http.MethodGet, u.Path)
		if err != nil {
			return nil, fmt.Errorf("sign handshake: %w", err)
		}
		for k, v := range signed {
			header[k] = v
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	sess := &session{
		conn: conn,
		done: make(chan struct{}),
		pong: make(chan struct{}, 1),
	}
	c.touch(sess)

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch(sess)
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch(sess)
		select {
		case sess.pong <- struct{}{}:
		default:
		}
		return nil
	})

	c.mu.Lock()
	old := c.sess
	c.sess = sess
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	go c.readLoop(sess)
	go c.keepalive(sess)

	c.logger.Info("websocket connected", "url", c.cfg.URL)
	return sess, nil
}

// ping does one ping/pong round trip on sess.
func (c *Client) ping(ctx context.Context, sess *session) error {
	// Discard a pong left over from keepalive
	select {
	case <-sess.pong:
	default:
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if err := sess.conn.WriteControl(websocket.PingMessage, []byte("probe"), deadline); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}

	select {
	case <-sess.pong:
		return nil
	case <-sess.done:
		return ErrNotConnected
	case <-ctx.Done():
		return fmt.Errorf("await pong: %w", ctx.Err())
	}
}

func (c *Client) send(sess *session, data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

// touch records activity on sess and fires the activity hook.
func (c *Client) touch(sess *session) {
	sess.lastSeen.Store(time.Now().UnixNano())

	c.mu.RLock()
	fn := c.activity
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// fail reports err, closes sess and detaches it if still current.
func (c *Client) fail(sess *session, err error) {
	select {
	case c.errors <- err:
	default:
		c.logger.Warn("error channel full, dropping error", "error", err)
	}

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
	sess.close()
}

// readLoop reads frames from sess and routes them.
func (c *Client) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-sess.done:
			default:
				c.fail(sess, fmt.Errorf("read: %w", err))
			}
			return
		}

		c.touch(sess)
		c.route(data, receivedAt)
	}
}

// route dispatches a frame to a pending command, a symbol stream, or the
// shared messages channel.
func (c *Client) route(data []byte, receivedAt time.Time) {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil {
		if env.ID != 0 && isResponseType(env.Type) {
			var resp Response
			if err := json.Unmarshal(data, &resp); err == nil {
				c.routeResponse(resp)
				return
			}
		}

		if env.Symbol != "" {
			c.streamsMu.Lock()
			ch, ok := c.streams[env.Symbol]
			c.streamsMu.Unlock()

			if ok {
				msg := TimestampedMessage{Symbol: env.Symbol, Data: data, ReceivedAt: receivedAt}
				select {
				case ch <- msg:
				default:
					c.logger.Warn("stream buffer full, dropping message", "symbol", env.Symbol)
				}
				return
			}
		}
	}

	msg := TimestampedMessage{
		Symbol:     env.Symbol,
		Data:       data,
		ReceivedAt: receivedAt,
	}

	select {
	case c.messages <- msg:
	default:
		c.logger.Warn("message buffer full, dropping message")
	}
}

func isResponseType(t string) bool {
	switch t {
	case "subscribed", "unsubscribed", "error", "ok":
		return true
	}
	return false
}

// routeResponse sends a response to the waiting goroutine.
func (c *Client) routeResponse(resp Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// keepalive pings the server and detects stale sessions.
func (c *Client) keepalive(sess *session) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			lastSeen := time.Unix(0, sess.lastSeen.Load())
			if time.Since(lastSeen) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_seen", lastSeen,
					"timeout", c.cfg.PingTimeout,
				)
				c.fail(sess, ErrStaleConnection)
				return
			}
		}
	}
}

func (s *session) close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
