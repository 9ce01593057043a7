package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/exchange-stream/internal/auth"
	"github.com/rickgao/exchange-stream/internal/failure"
	"github.com/rickgao/exchange-stream/internal/reconnect"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrTimeout            = errors.New("operation timeout")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrFallback           = errors.New("circuit breaker open, fallback required")
)

// State is the lifecycle state of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Exchange is the remote endpoint the Manager drives. Calls are never
// made concurrently.
type Exchange interface {
	// ProbeLiveness establishes the session if needed and confirms the
	// endpoint answers.
	ProbeLiveness(ctx context.Context) error

	// Subscribe requests market data for symbol.
	Subscribe(ctx context.Context, symbol string) error

	// Close ends the current session. The Exchange stays reusable.
	Close() error
}

// Streamer is implemented by exchanges that deliver per-symbol messages.
// Stream blocks until ctx is done, calling emit for every message.
type Streamer interface {
	Stream(ctx context.Context, symbol string, emit func(TimestampedMessage)) error
}

// StatusChecker reports whether the exchange is accepting traffic.
// *api.Client satisfies it.
type StatusChecker interface {
	CheckStatus(ctx context.Context) error
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Symbol     string    // Empty for messages not tied to a symbol
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Command is a WebSocket command to send to the server.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Channels []string `json:"channels"`
	Symbol   string   `json:"symbol"`
}

// Response is a command response from the server.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "unsubscribed", "error", "ok"
	Msg  json.RawMessage `json:"msg"`
}

// ErrorMsg is the message content for an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope holds the routing fields common to every inbound frame.
type envelope struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string            // WebSocket URL
	Credentials      *auth.Credentials // Signs the handshake (nil = no auth)
	Status           StatusChecker     // Optional REST status check before dialing
	Channels         []string          // Channels requested per symbol
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max silence before the session is stale
	WriteTimeout     time.Duration // Write deadline for sends
	SubscribeTimeout time.Duration // Max wait for a subscribe response
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Channels:         []string{"ticker"},
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		BufferSize:       10000,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	HeartbeatInterval time.Duration // Watchdog period; stale after twice this
	ConnectTimeout    time.Duration // Bound on one liveness probe
	TaskCancelTimeout time.Duration // Max wait for cancelled per-symbol tasks
	SubscribeRate     float64       // Re-subscriptions per second (<= 0 = unlimited)
	SubscribeBurst    int
	Reconnect         reconnect.Config
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeartbeatInterval: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		TaskCancelTimeout: 5 * time.Second,
		SubscribeRate:     20,
		SubscribeBurst:    5,
		Reconnect:         reconnect.DefaultConfig(),
	}
}

// Info is a snapshot of the Manager.
type Info struct {
	State             State             `json:"state"`
	SubscriptionCount int               `json:"subscription_count"`
	Subscriptions     []string          `json:"subscriptions"`
	ReconnectAttempts int               `json:"reconnect_attempts"`
	CanReconnect      bool              `json:"can_reconnect"`
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	Uptime            time.Duration     `json:"uptime"`
	LastFailure       *failure.Response `json:"last_failure,omitempty"`
}

// RestoreResult counts the outcome of a subscription replay.
type RestoreResult struct {
	Restored int      `json:"restored"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"` // "symbol: error" per failure
}
