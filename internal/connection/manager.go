package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/exchange-stream/internal/bridge"
	"github.com/rickgao/exchange-stream/internal/event"
	"github.com/rickgao/exchange-stream/internal/failure"
	"github.com/rickgao/exchange-stream/internal/reconnect"
)

const source = "connection_manager"

// Manager owns the lifecycle of one exchange connection.
//
// Connection state, the subscription set, per-symbol tasks, heartbeat
// timestamps and the reconnect policy live on the bridge loop and are only
// touched inside bridge.Call callbacks. Calls into the Exchange are
// serialized by opMu.
type Manager struct {
	cfg      ManagerConfig
	exchange Exchange
	bridge   *bridge.Bridge
	failures *failure.Handler
	logger   *slog.Logger
	limiter  *rate.Limiter
	now      func() time.Time

	opMu sync.Mutex

	// Loop-owned
	state         State
	subs          map[string]struct{}
	tasks         map[string]*bridge.Handle
	watchdog      *bridge.Handle
	policy        *reconnect.Policy
	lastHeartbeat time.Time
	connectedAt   time.Time
	needsRestore  bool // the set has not been subscribed on the current connection
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source used for heartbeats and uptime.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithPolicy replaces the reconnect policy built from cfg.Reconnect.
func WithPolicy(p *reconnect.Policy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

// NewManager creates a Manager. br must be started before any operation is
// called; failures may be nil for a handler with default settings.
func NewManager(cfg ManagerConfig, ex Exchange, br *bridge.Bridge, failures *failure.Handler, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if failures == nil {
		failures = failure.NewHandler(nil, logger)
	}

	def := DefaultManagerConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.TaskCancelTimeout <= 0 {
		cfg.TaskCancelTimeout = def.TaskCancelTimeout
	}
	if cfg.SubscribeBurst < 1 {
		cfg.SubscribeBurst = 1
	}

	limit := rate.Inf
	if cfg.SubscribeRate > 0 {
		limit = rate.Limit(cfg.SubscribeRate)
	}

	m := &Manager{
		cfg:          cfg,
		exchange:     ex,
		bridge:       br,
		failures:     failures,
		logger:       logger.With("component", "connection"),
		limiter:      rate.NewLimiter(limit, cfg.SubscribeBurst),
		now:          time.Now,
		state:        StateDisconnected,
		subs:         make(map[string]struct{}),
		needsRestore: true,
		tasks:        make(map[string]*bridge.Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.policy == nil {
		m.policy = reconnect.New(cfg.Reconnect)
	}
	return m
}

// Connect probes the exchange and moves to Connected. It returns true
// immediately if already connected. Remote failures are classified and
// reported as false with a nil error.
func (m *Manager) Connect(ctx context.Context) (bool, error) {
	v, err := m.run(ctx, func(tctx context.Context) (any, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		return m.connect(tctx)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Disconnect cancels per-symbol tasks and the watchdog, closes the
// exchange session and moves to Disconnected.
func (m *Manager) Disconnect(ctx context.Context) error {
	_, err := m.run(ctx, func(tctx context.Context) (any, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()

		var skip bool
		var handles []*bridge.Handle
		if err := m.do(func() {
			if m.state == StateDisconnected {
				skip = true
				return
			}
			handles = m.takeTasks()
			handles = append(handles, m.watchdog)
			m.watchdog = nil
		}); err != nil {
			return nil, err
		}
		if skip {
			return nil, nil
		}

		m.cancelAndWait(handles)

		if err := m.exchange.Close(); err != nil {
			m.logger.Warn("exchange close failed", "error", err)
		}

		return nil, m.do(func() {
			m.setState(StateDisconnected)
		})
	})
	return err
}

// HandleReconnection spends one attempt of the reconnect budget: it waits
// the backoff delay, reconnects and, if the connection had been lost,
// replays the subscription set. It returns false once the budget is
// exhausted or when the attempt fails.
func (m *Manager) HandleReconnection(ctx context.Context) (bool, error) {
	v, err := m.run(ctx, func(tctx context.Context) (any, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		return m.reconnect(tctx)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// RestoreSubscriptions subscribes every symbol in the set again.
func (m *Manager) RestoreSubscriptions(ctx context.Context) (RestoreResult, error) {
	v, err := m.run(ctx, func(tctx context.Context) (any, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		return m.restore(tctx)
	})
	if err != nil {
		return RestoreResult{}, err
	}
	return v.(RestoreResult), nil
}

// AddSubscription adds symbol to the set. Adding a present symbol is a
// no-op.
func (m *Manager) AddSubscription(ctx context.Context, symbol string) error {
	if symbol == "" {
		return errors.New("add subscription: empty symbol")
	}
	return m.bridge.Call(ctx, func() {
		if _, ok := m.subs[symbol]; ok {
			return
		}
		m.subs[symbol] = struct{}{}
		m.needsRestore = true
		m.logger.Debug("subscription added", "symbol", symbol, "count", len(m.subs))
	})
}

// RemoveSubscription removes symbol from the set and cancels its stream.
// Removing an absent symbol is a no-op.
func (m *Manager) RemoveSubscription(ctx context.Context, symbol string) error {
	var h *bridge.Handle
	err := m.bridge.Call(ctx, func() {
		if _, ok := m.subs[symbol]; !ok {
			return
		}
		delete(m.subs, symbol)
		h = m.tasks[symbol]
		delete(m.tasks, symbol)
		m.logger.Debug("subscription removed", "symbol", symbol, "count", len(m.subs))
	})
	if h != nil {
		h.Cancel()
	}
	return err
}

// RecordHeartbeat stamps liveness evidence. It never blocks.
func (m *Manager) RecordHeartbeat() {
	m.bridge.ScheduleCallback(func() {
		m.lastHeartbeat = m.now()
	})
}

// ReportFailure classifies a runtime failure observed outside the
// Manager, such as a read error. When the response asks for reconnect or
// fallback a live connection moves to Error.
func (m *Manager) ReportFailure(ctx context.Context, err error, where string) (failure.Response, error) {
	resp := m.failures.Handle(err, where)
	if err == nil {
		return resp, nil
	}

	m.emit(event.New(event.ConnectionFailure, source).
		WithMessage(fmt.Sprintf("%s: %s", where, resp.Message)).
		WithState(resp.Type.String()))

	if !resp.ShouldReconnect && !resp.ShouldFallback {
		return resp, nil
	}
	return resp, m.bridge.Call(ctx, func() {
		if m.state == StateConnected {
			m.setState(StateError)
		}
	})
}

// ConnectionInfo returns a snapshot of the connection.
func (m *Manager) ConnectionInfo(ctx context.Context) (Info, error) {
	var info Info
	err := m.bridge.Call(ctx, func() {
		info = Info{
			State:             m.state,
			SubscriptionCount: len(m.subs),
			Subscriptions:     m.sortedSubs(),
			ReconnectAttempts: m.policy.State().Attempts,
			CanReconnect:      m.policy.ShouldReconnect(),
			LastHeartbeat:     m.lastHeartbeat,
		}
		if m.state == StateConnected {
			info.Uptime = m.now().Sub(m.connectedAt)
		}
	})
	if err != nil {
		return Info{}, err
	}
	if last, ok := m.failures.Last(); ok {
		info.LastFailure = &last
	}
	return info, nil
}

// ErrorStatistics returns the failure counters and breaker state.
func (m *Manager) ErrorStatistics() failure.Statistics {
	return m.failures.Statistics()
}

// run executes op as a bridge task and waits with ctx.
func (m *Manager) run(ctx context.Context, op bridge.Task) (any, error) {
	f, err := m.bridge.RunAsync(op)
	if err != nil {
		return nil, err
	}
	v, err := f.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		f.Cancel()
	}
	return v, err
}

// do runs fn on the loop and waits for it.
func (m *Manager) do(fn func()) error {
	return m.bridge.Call(context.Background(), fn)
}

// connect requires opMu.
func (m *Manager) connect(ctx context.Context) (bool, error) {
	var already bool
	if err := m.do(func() {
		if m.state == StateConnected {
			already = true
			return
		}
		if m.state != StateReconnecting {
			m.setState(StateConnecting)
		}
	}); err != nil {
		return false, err
	}
	if already {
		return true, nil
	}

	if err := m.probe(ctx); err != nil {
		resp := m.failures.Handle(err, "connect")
		m.logger.Warn("connect failed", "error", err, "type", resp.Type)
		m.emit(event.New(event.ConnectionFailure, source).
			WithMessage(resp.Message).
			WithState(resp.Type.String()))

		if err := m.do(func() { m.setState(StateError) }); err != nil {
			return false, err
		}
		return false, nil
	}
	m.failures.RecordSuccess()

	var oldWatchdog *bridge.Handle
	if err := m.do(func() {
		now := m.now()
		m.setState(StateConnected)
		m.policy.RecordSuccess()
		m.lastHeartbeat = now
		m.connectedAt = now
		oldWatchdog = m.watchdog
		m.watchdog = nil
	}); err != nil {
		return false, err
	}
	if oldWatchdog != nil {
		oldWatchdog.Cancel()
	}

	h := m.bridge.CreateTask("heartbeat_watchdog", m.watchHeartbeat)
	if h != nil {
		if err := m.do(func() { m.watchdog = h }); err != nil {
			h.Cancel()
			return true, err
		}
	}

	m.logger.Info("connected")
	return true, nil
}

// probe runs ProbeLiveness bounded by ConnectTimeout. On timeout it still
// waits for ProbeLiveness to return, so the caller's opMu covers it.
func (m *Manager) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- m.exchange.ProbeLiveness(pctx)
	}()

	select {
	case err := <-errc:
		return err
	case <-pctx.Done():
		if err := <-errc; err != nil {
			m.logger.Debug("late probe result", "error", err)
		}
		return fmt.Errorf("probe liveness: %w", pctx.Err())
	}
}

// reconnect requires opMu.
func (m *Manager) reconnect(ctx context.Context) (bool, error) {
	var (
		already   bool
		exhausted bool
		attempt   int
		delay     time.Duration
		handles   []*bridge.Handle
	)
	if err := m.do(func() {
		if m.state == StateConnected {
			already = true
			return
		}
		if !m.policy.ShouldReconnect() {
			exhausted = true
			attempt = m.policy.State().Attempts
			return
		}
		m.setState(StateReconnecting)
		m.policy.RecordAttempt()
		attempt = m.policy.State().Attempts
		delay = m.policy.Delay()

		handles = m.takeTasks()
		handles = append(handles, m.watchdog)
		m.watchdog = nil
	}); err != nil {
		return false, err
	}

	if already {
		return true, nil
	}
	if exhausted {
		m.logger.Error("reconnect attempts exhausted", "attempts", attempt)
		m.emit(event.New(event.ReconnectExhausted, source).
			WithMessage(fmt.Sprintf("gave up after %d attempts", attempt)))
		return false, nil
	}

	// Drop the dead session before redialing
	m.cancelAndWait(handles)
	if err := m.exchange.Close(); err != nil {
		m.logger.Debug("close before reconnect failed", "error", err)
	}

	m.logger.Info("attempting reconnection", "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false, ctx.Err()
	case <-timer.C:
	}

	ok, err := m.connect(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, m.do(func() {
			m.policy.RecordFailure()
		})
	}

	var restore bool
	if err := m.do(func() { restore = m.needsRestore }); err != nil {
		return true, err
	}
	if restore {
		if _, err := m.restore(ctx); err != nil {
			return true, err
		}
	}

	m.logger.Info("reconnected", "attempt", attempt)
	return true, nil
}

// restore requires opMu.
func (m *Manager) restore(ctx context.Context) (RestoreResult, error) {
	var (
		res     RestoreResult
		symbols []string
		stale   []*bridge.Handle
	)
	if err := m.do(func() {
		m.needsRestore = false
		symbols = m.sortedSubs()
		stale = m.takeTasks()
	}); err != nil {
		return res, err
	}
	if len(symbols) == 0 {
		return res, nil
	}

	m.cancelAndWait(stale)

	streamer, canStream := m.exchange.(Streamer)

	for _, symbol := range symbols {
		if err := m.limiter.Wait(ctx); err != nil {
			return res, err
		}

		if err := m.exchange.Subscribe(ctx, symbol); err != nil {
			resp := m.failures.Handle(err, "subscribe")
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", symbol, err))
			m.logger.Warn("subscription restore failed",
				"symbol", symbol,
				"type", resp.Type,
				"error", err,
			)
			m.emit(event.New(event.SubscriptionFailed, source).
				WithSymbol(symbol).
				WithMessage(resp.Message))
			continue
		}
		res.Restored++

		if canStream {
			m.startStream(streamer, symbol)
		}
	}

	m.logger.Info("subscriptions restored",
		"restored", res.Restored,
		"failed", res.Failed,
		"total", len(symbols),
	)
	m.emit(event.New(event.SubscriptionRestored, source).
		WithMessage(fmt.Sprintf("restored %d of %d", res.Restored, len(symbols))))

	return res, nil
}

// startStream launches the per-symbol stream task and records it, unless
// the symbol was removed meanwhile.
func (m *Manager) startStream(s Streamer, symbol string) {
	h := m.bridge.CreateTask("stream:"+symbol, func(ctx context.Context) (any, error) {
		return nil, s.Stream(ctx, symbol, func(msg TimestampedMessage) {
			m.emit(event.New(event.MarketMessage, source).
				WithSymbol(symbol).
				WithPayload(msg.Data).
				At(msg.ReceivedAt))
		})
	})
	if h == nil {
		return
	}

	var keep bool
	m.do(func() {
		if _, ok := m.subs[symbol]; !ok {
			return
		}
		keep = true
		if old := m.tasks[symbol]; old != nil {
			old.Cancel()
		}
		m.tasks[symbol] = h
	})
	if !keep {
		h.Cancel()
	}
}

// watchHeartbeat moves the connection to Error when no heartbeat has
// been recorded for two intervals. It exits once the state is no longer
// Connected.
func (m *Manager) watchHeartbeat(ctx context.Context) (any, error) {
	interval := m.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}

		var connected, stale bool
		var since time.Duration
		if err := m.do(func() {
			if m.state != StateConnected {
				return
			}
			connected = true
			since = m.now().Sub(m.lastHeartbeat)
			if since > 2*interval {
				stale = true
				m.setState(StateError)
			}
		}); err != nil {
			return nil, nil
		}

		if !connected {
			return nil, nil
		}
		if stale {
			m.logger.Warn("heartbeat stale", "since", since, "interval", interval)
			m.failures.Handle(ErrStaleConnection, "heartbeat")
			m.emit(event.New(event.ConnectionStale, source).
				WithMessage(fmt.Sprintf("no heartbeat for %s", since.Round(time.Millisecond))))
			return nil, nil
		}
	}
}

// cancelAndWait cancels handles and waits up to TaskCancelTimeout for
// them to return.
func (m *Manager) cancelAndWait(handles []*bridge.Handle) {
	live := handles[:0]
	for _, h := range handles {
		if h != nil {
			h.Cancel()
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return
	}

	timer := time.NewTimer(m.cfg.TaskCancelTimeout)
	defer timer.Stop()

	for _, h := range live {
		select {
		case <-h.Done():
		case <-timer.C:
			m.logger.Warn("tasks did not stop in time", "timeout", m.cfg.TaskCancelTimeout)
			return
		}
	}
}

// setState runs on the loop.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	if prev == StateConnected {
		m.needsRestore = true
	}

	m.logger.Info("connection state changed", "from", prev, "to", s)
	m.emit(event.New(event.ConnectionState, source).WithState(s.String()))
}

// takeTasks runs on the loop.
func (m *Manager) takeTasks() []*bridge.Handle {
	handles := make([]*bridge.Handle, 0, len(m.tasks))
	for _, h := range m.tasks {
		handles = append(handles, h)
	}
	m.tasks = make(map[string]*bridge.Handle)
	return handles
}

// sortedSubs runs on the loop.
func (m *Manager) sortedSubs() []string {
	symbols := make([]string, 0, len(m.subs))
	for s := range m.subs {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func (m *Manager) emit(ev event.Event) {
	m.bridge.EmitEvent(ev)
}
