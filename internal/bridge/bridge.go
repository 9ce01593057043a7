// Package bridge runs a single serialized loop goroutine and lets arbitrary
// goroutines schedule work on it, start tracked tasks, emit events and shut
// it all down in bounded time.
//
// Loop callbacks run one at a time in submission order. State that is only
// touched from loop callbacks needs no further locking. Tasks run in their
// own goroutines and reach loop-owned state through Call.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/exchange-stream/internal/event"
	"github.com/rickgao/exchange-stream/internal/queue"
)

// Bridge hosts the loop. The zero value is not usable; use New.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	sink   event.Sink
	events *queue.Ring[event.Event]

	mu          sync.Mutex
	state       State
	accepting   bool // loop takes callbacks; stays true while shutting down
	pending     []func()
	wake        chan struct{}
	quit        chan struct{}
	loopDone    chan struct{}
	taskCtx     context.Context
	cancelTasks context.CancelFunc
	tasks       map[uuid.UUID]*Handle
	tasksWG     sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithSink routes emitted events to sink instead of the internal ring.
func WithSink(sink event.Sink) Option {
	return func(b *Bridge) {
		b.sink = sink
	}
}

// New creates a Bridge in the NotStarted state.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	b := &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
		events: queue.NewRing[event.Event](cfg.EventQueueSize),
		state:  StateNotStarted,
		tasks:  make(map[uuid.UUID]*Handle),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the loop goroutine and waits until it is ready.
// Starting a running bridge logs a warning and returns nil. A bridge that
// has been stopped cannot be restarted.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateRunning:
		b.logger.Warn("bridge already running")
		return nil
	case StateShuttingDown, StateStopped:
		return ErrStopped
	}

	b.wake = make(chan struct{}, 1)
	b.quit = make(chan struct{})
	b.loopDone = make(chan struct{})
	b.taskCtx, b.cancelTasks = context.WithCancel(context.Background())

	ready := make(chan struct{})
	go b.loop(ready)

	timer := time.NewTimer(b.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
		close(b.quit)
		b.cancelTasks()
		b.state = StateStopped
		b.logger.Error("bridge startup timed out", "timeout", b.cfg.StartupTimeout)
		return ErrStartupTimeout
	}

	b.state = StateRunning
	b.accepting = true
	b.logger.Info("bridge started")
	return nil
}

// loop runs scheduled callbacks until quit is closed, then runs whatever
// was scheduled before the close and exits.
func (b *Bridge) loop(ready chan<- struct{}) {
	defer close(b.loopDone)
	close(ready)

	for {
		select {
		case <-b.wake:
			b.runPending()
		case <-b.quit:
			b.runPending()
			return
		}
	}
}

func (b *Bridge) runPending() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, fn := range batch {
		b.runCallback(fn)
	}
}

func (b *Bridge) runCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("loop callback panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// post queues fn on the loop. It accepts work while the loop is alive,
// including during shutdown so that cancelled tasks can still Call in.
func (b *Bridge) post(fn func()) bool {
	b.mu.Lock()
	if !b.accepting {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, fn)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

func (b *Bridge) running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateRunning
}

// ScheduleCallback queues fn to run on the loop. It returns false, without
// queueing, when the bridge is not running.
func (b *Bridge) ScheduleCallback(fn func()) bool {
	if !b.running() {
		return false
	}
	return b.post(fn)
}

// Call runs fn on the loop and waits for it to return. Call must not be
// used from inside a loop callback.
func (b *Bridge) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !b.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrNotRunning
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.loopDone:
		// The loop may have run fn just before exiting.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// RunAsync starts task and returns a Future for its result. Tasks are
// launched from the loop in submission order.
func (b *Bridge) RunAsync(task Task) (*Future, error) {
	f, err := b.spawn("", task)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// CreateTask starts fire-and-forget work tracked by the bridge. It returns
// nil if the bridge is not running or the loop does not launch the task
// within CreateTaskTimeout. A task error other than cancellation is logged.
func (b *Bridge) CreateTask(name string, task Task) *Handle {
	f, err := b.spawnWait(name, task)
	if err != nil {
		b.logger.Warn("task not created", "task", name, "error", err)
		return nil
	}
	return &f.Handle
}

const (
	launchPending int32 = iota
	launchStarted
	launchAbandoned
)

func (b *Bridge) spawnWait(name string, task Task) (*Future, error) {
	var launch atomic.Int32
	started := make(chan struct{})

	f, err := b.spawnWith(name, task, func(run func()) {
		if launch.CompareAndSwap(launchPending, launchStarted) {
			close(started)
			run()
		}
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(CreateTaskTimeout)
	defer timer.Stop()

	select {
	case <-started:
		return f, nil
	case <-timer.C:
	}

	if !launch.CompareAndSwap(launchPending, launchAbandoned) {
		// Launched while the timer fired.
		return f, nil
	}
	b.abandon(f, ErrTimeout)
	return nil, ErrTimeout
}

func (b *Bridge) spawn(name string, task Task) (*Future, error) {
	return b.spawnWith(name, task, func(run func()) { run() })
}

// spawnWith registers a task and posts its launch to the loop. launch
// decides whether the registered task is actually started.
func (b *Bridge) spawnWith(name string, task Task, launch func(run func())) (*Future, error) {
	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		return nil, ErrNotRunning
	}

	ctx, cancel := context.WithCancel(b.taskCtx)
	f := &Future{Handle: Handle{
		id:     uuid.New(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}}
	b.tasks[f.id] = &f.Handle
	b.tasksWG.Add(1)
	b.mu.Unlock()

	ok := b.post(func() {
		launch(func() { go b.runTask(ctx, f, task) })
	})
	if !ok {
		b.abandon(f, ErrNotRunning)
		return nil, ErrNotRunning
	}
	return f, nil
}

// abandon resolves a registered task that will never run.
func (b *Bridge) abandon(f *Future, err error) {
	f.err = err
	f.cancel()
	close(f.done)
	b.forget(f)
}

func (b *Bridge) forget(f *Future) {
	b.mu.Lock()
	delete(b.tasks, f.id)
	b.mu.Unlock()
	b.tasksWG.Done()
}

func (b *Bridge) runTask(ctx context.Context, f *Future, task Task) {
	defer b.forget(f)
	defer f.cancel()
	defer close(f.done)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("task panicked",
				"task", f.name,
				"task_id", f.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			f.val = nil
			f.err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	f.val, f.err = task(ctx)

	if f.name != "" && f.err != nil && ctx.Err() == nil {
		b.logger.Error("task failed", "task", f.name, "task_id", f.id, "error", f.err)
	}
}

// EmitEvent hands ev to the configured sink. Without a sink the event is
// queued in a bounded ring; when full the oldest event is dropped.
// Safe for concurrent use and usable in any state.
func (b *Bridge) EmitEvent(ev event.Event) {
	if b.sink != nil {
		if err := b.sink.Publish(context.Background(), ev); err != nil {
			b.logger.Warn("event sink rejected event", "type", ev.Type, "error", err)
		}
		return
	}

	if b.events.Push(ev) {
		b.logger.Warn("event queue full, dropped oldest event",
			"capacity", b.events.Cap(),
			"type", ev.Type,
		)
	}
}

// DrainQueuedEvents removes and returns all queued events in order.
func (b *Bridge) DrainQueuedEvents() []event.Event {
	return b.events.Drain(0)
}

// Stop shuts the bridge down within timeout (ShutdownTimeout if <= 0):
// new work is refused, tasks are cancelled and given up to TaskGrace to
// return, then the loop is closed. Stop returns false if the loop has not
// exited when the timeout expires.
func (b *Bridge) Stop(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = b.cfg.ShutdownTimeout
	}
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	switch b.state {
	case StateNotStarted:
		b.state = StateStopped
		b.mu.Unlock()
		return true
	case StateShuttingDown, StateStopped:
		loopDone := b.loopDone
		b.mu.Unlock()
		return waitClosed(loopDone, timeout)
	}
	b.state = StateShuttingDown
	b.mu.Unlock()

	b.logger.Info("bridge stopping", "timeout", timeout)

	// 1. Cancel outstanding tasks and give them a bounded grace period.
	b.cancelTasks()
	tasksDone := make(chan struct{})
	go func() {
		b.tasksWG.Wait()
		close(tasksDone)
	}()
	if !waitClosed(tasksDone, min(b.cfg.TaskGrace, timeout)) {
		b.mu.Lock()
		n := len(b.tasks)
		b.mu.Unlock()
		b.logger.Warn("tasks still running after grace period", "tasks", n)
	}

	// 2. Close the loop.
	b.mu.Lock()
	b.accepting = false
	close(b.quit)
	b.mu.Unlock()

	if !waitClosed(b.loopDone, time.Until(deadline)) {
		b.logger.Error("bridge shutdown timed out", "timeout", timeout)
		return false
	}

	b.mu.Lock()
	b.state = StateStopped
	b.mu.Unlock()

	b.logger.Info("bridge stopped")
	return true
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a diagnostic snapshot.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		State:            b.state,
		PendingTasks:     len(b.tasks),
		PendingCallbacks: len(b.pending),
	}
	b.mu.Unlock()

	es := b.events.Stats()
	s.QueuedEvents = es.Count
	s.DroppedEvents = es.TotalDropped
	return s
}

func waitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	if ch == nil {
		return true
	}
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
