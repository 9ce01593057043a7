package connection

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/exchange-stream/internal/api"
	"github.com/rickgao/exchange-stream/internal/auth"
	"github.com/rickgao/exchange-stream/internal/failure"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoServer answers subscribe commands. Symbols starting with "BAD" get
// an error response; others get "subscribed" followed by one data frame.
func echoServer(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd struct {
			ID     int64           `json:"id"`
			Cmd    string          `json:"cmd"`
			Params SubscribeParams `json:"params"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Cmd != "subscribe" {
			continue
		}

		if strings.HasPrefix(cmd.Params.Symbol, "BAD") {
			conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(
				`{"id":%d,"type":"error","msg":{"code":"unknown_symbol","message":"Unknown symbol %s"}}`,
				cmd.ID, cmd.Params.Symbol)))
			continue
		}

		conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(
			`{"id":%d,"type":"subscribed","msg":{"sid":1,"channel":"ticker"}}`, cmd.ID)))
		conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(
			`{"type":"ticker","symbol":%q,"msg":{"price":101}}`, cmd.Params.Symbol)))
	}
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		PingInterval:     time.Hour,
		PingTimeout:      time.Hour,
		WriteTimeout:     time.Second,
		SubscribeTimeout: time.Second,
		BufferSize:       100,
	}
}

func TestClient_ProbeLivenessDials(t *testing.T) {
	server := mockWSServer(t, echoServer)

	var activity atomic.Int64
	client := NewClient(testClientConfig(wsURL(server)), nil)
	client.SetActivityHook(func() { activity.Add(1) })

	assert.False(t, client.IsConnected())
	require.NoError(t, client.ProbeLiveness(context.Background()))
	assert.True(t, client.IsConnected())
	assert.Greater(t, activity.Load(), int64(0))

	// Second probe reuses the session
	require.NoError(t, client.ProbeLiveness(context.Background()))

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())

	// Close with no session is a no-op
	require.NoError(t, client.Close())
}

func TestClient_ReusableAfterClose(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		echoServer(conn)
	})

	client := NewClient(testClientConfig(wsURL(server)), nil)
	ctx := context.Background()

	require.NoError(t, client.ProbeLiveness(ctx))
	require.NoError(t, client.Close())
	require.NoError(t, client.ProbeLiveness(ctx))
	defer client.Close()

	assert.Equal(t, int32(2), conns.Load())
}

func TestClient_ProbeLivenessDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	client := NewClient(testClientConfig(url), nil)
	err := client.ProbeLiveness(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.Network, failure.Classify(err))
}

type stubStatus struct{ err error }

func (s stubStatus) CheckStatus(context.Context) error { return s.err }

func TestClient_ProbeLivenessChecksStatus(t *testing.T) {
	var dialed atomic.Bool
	server := mockWSServer(t, func(conn *websocket.Conn) {
		dialed.Store(true)
		echoServer(conn)
	})

	cfg := testClientConfig(wsURL(server))
	cfg.Status = stubStatus{err: api.ErrExchangeInactive}
	client := NewClient(cfg, nil)

	err := client.ProbeLiveness(context.Background())
	require.ErrorIs(t, err, api.ErrExchangeInactive)
	assert.Equal(t, failure.Exchange, failure.Classify(err))
	assert.False(t, dialed.Load())
	assert.False(t, client.IsConnected())
}

func TestClient_SignsHandshake(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderKey) != "key-1" ||
			auth.Verify(&key.PublicKey, r.Header, http.MethodGet, r.URL.Path) != nil {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		echoServer(conn)
	}))
	defer server.Close()

	cfg := testClientConfig(wsURL(server) + "/ws/v1")
	cfg.Credentials = &auth.Credentials{KeyID: "key-1", PrivateKey: key}
	client := NewClient(cfg, nil)
	require.NoError(t, client.ProbeLiveness(context.Background()))
	client.Close()

	// Unsigned handshake is rejected
	unsigned := NewClient(testClientConfig(wsURL(server)+"/ws/v1"), nil)
	err = unsigned.ProbeLiveness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_Subscribe(t *testing.T) {
	server := mockWSServer(t, echoServer)
	client := NewClient(testClientConfig(wsURL(server)), nil)
	ctx := context.Background()

	assert.ErrorIs(t, client.Subscribe(ctx, "BTC-USD"), ErrNotConnected)

	require.NoError(t, client.ProbeLiveness(ctx))
	defer client.Close()

	require.NoError(t, client.Subscribe(ctx, "BTC-USD"))

	err := client.Subscribe(ctx, "BAD-1")
	require.Error(t, err)
	assert.Equal(t, "unknown_symbol: Unknown symbol BAD-1", err.Error())
	assert.Equal(t, failure.Symbol, failure.Classify(err))
}

func TestClient_SubscribeTimeout(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Read but never answer
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := testClientConfig(wsURL(server))
	cfg.SubscribeTimeout = 50 * time.Millisecond
	client := NewClient(cfg, nil)
	require.NoError(t, client.ProbeLiveness(context.Background()))
	defer client.Close()

	err := client.Subscribe(context.Background(), "BTC-USD")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_RoutesMessages(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","msg":"hello"}`))
		echoServer(conn)
	})

	client := NewClient(testClientConfig(wsURL(server)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.ProbeLiveness(ctx))
	defer client.Close()

	// Frames not tied to a symbol land on Messages
	select {
	case msg := <-client.Messages():
		assert.JSONEq(t, `{"type":"status","msg":"hello"}`, string(msg.Data))
		assert.False(t, msg.ReceivedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("message not received")
	}

	var mu sync.Mutex
	var streamed []TimestampedMessage
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- client.Stream(ctx, "ETH-USD", func(msg TimestampedMessage) {
			mu.Lock()
			streamed = append(streamed, msg)
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool {
		client.streamsMu.Lock()
		defer client.streamsMu.Unlock()
		_, ok := client.streams["ETH-USD"]
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Subscribe(ctx, "ETH-USD"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(streamed) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "ETH-USD", streamed[0].Symbol)
	mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-streamDone, context.Canceled)
}

func TestClient_ReportsServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	})

	client := NewClient(testClientConfig(wsURL(server)), nil)
	// The server may close before the pong arrives
	_ = client.ProbeLiveness(context.Background())

	select {
	case err := <-client.Errors():
		require.Error(t, err)
		var closeErr *websocket.CloseError
		assert.True(t, errors.As(err, &closeErr))
	case <-time.After(time.Second):
		t.Fatal("expected error")
	}

	require.Eventually(t, func() bool { return !client.IsConnected() }, time.Second, 5*time.Millisecond)
}

func TestClient_StaleKeepalive(t *testing.T) {
	release := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Never reads, so pings go unanswered
		<-release
	})
	defer close(release)

	cfg := testClientConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond
	client := NewClient(cfg, nil)

	_, err := client.dial(context.Background())
	require.NoError(t, err)

	select {
	case err := <-client.Errors():
		assert.ErrorIs(t, err, ErrStaleConnection)
	case <-time.After(2 * time.Second):
		t.Fatal("expected stale connection error")
	}
	assert.False(t, client.IsConnected())
}

func TestClient_ImplementsExchange(t *testing.T) {
	var _ Exchange = (*Client)(nil)
	var _ Streamer = (*Client)(nil)
	var _ StatusChecker = (*api.Client)(nil)
}
