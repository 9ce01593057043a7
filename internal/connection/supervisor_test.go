package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/exchange-stream/internal/breaker"
	"github.com/rickgao/exchange-stream/internal/failure"
)

func runSupervisor(ctx context.Context, s *Supervisor) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return errc
}

func TestSupervisor_ConnectsAndRecovers(t *testing.T) {
	ex := newFakeExchange()
	m, _ := newTestManager(t, ex, testManagerConfig(), nil)
	require.NoError(t, m.AddSubscription(context.Background(), "BTC-USD"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := runSupervisor(ctx, NewSupervisor(m, 5*time.Millisecond, nil))

	require.Eventually(t, func() bool {
		_, _, subs := ex.counts()
		return subs["BTC-USD"] == 1
	}, time.Second, 5*time.Millisecond)

	_, err := m.ReportFailure(context.Background(), errors.New("websocket: close 1006 (abnormal closure): unexpected EOF"), "read")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, subs := ex.counts()
		return subs["BTC-USD"] == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, state(t, m))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisor_StartupOutage(t *testing.T) {
	ex := newFakeExchange()
	ex.setProbeErr(errors.New("dial tcp: connection refused"))
	cfg := testManagerConfig()
	cfg.Reconnect.MaxAttempts = 1000
	m, _ := newTestManager(t, ex, cfg, nil)
	require.NoError(t, m.AddSubscription(context.Background(), "BTC-USD"))
	require.NoError(t, m.AddSubscription(context.Background(), "ETH-USD"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := runSupervisor(ctx, NewSupervisor(m, 5*time.Millisecond, nil))

	time.AfterFunc(20*time.Millisecond, func() { ex.setProbeErr(nil) })

	require.Eventually(t, func() bool {
		_, _, subs := ex.counts()
		return subs["BTC-USD"] == 1 && subs["ETH-USD"] == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, state(t, m))

	// Stays subscribed once, without further replays
	time.Sleep(30 * time.Millisecond)
	_, _, subs := ex.counts()
	assert.Equal(t, map[string]int{"BTC-USD": 1, "ETH-USD": 1}, subs)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisor_ReconnectExhausted(t *testing.T) {
	ex := newFakeExchange()
	ex.setProbeErr(errors.New("connection refused"))
	cfg := testManagerConfig()
	cfg.Reconnect.MaxAttempts = 2
	m, _ := newTestManager(t, ex, cfg, nil)

	select {
	case err := <-runSupervisor(context.Background(), NewSupervisor(m, 5*time.Millisecond, nil)):
		assert.ErrorIs(t, err, ErrReconnectExhausted)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not give up")
	}

	probes, _, _ := ex.counts()
	assert.Equal(t, 3, probes) // initial connect plus two reconnects
}

func TestSupervisor_Fallback(t *testing.T) {
	ex := newFakeExchange()
	ex.setProbeErr(errors.New("401 Unauthorized"))
	handler := failure.NewHandler(breaker.New(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute}), nil)
	m, _ := newTestManager(t, ex, testManagerConfig(), handler)

	select {
	case err := <-runSupervisor(context.Background(), NewSupervisor(m, 5*time.Millisecond, nil)):
		assert.ErrorIs(t, err, ErrFallback)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not fall back")
	}
	assert.Equal(t, breaker.StateOpen, m.ErrorStatistics().Breaker)
}
