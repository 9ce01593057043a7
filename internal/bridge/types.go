package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNotRunning     = errors.New("bridge not running")
	ErrStopped        = errors.New("bridge stopped")
	ErrStartupTimeout = errors.New("bridge startup timed out")
	ErrTimeout        = errors.New("bridge operation timed out")
	ErrTaskPanicked   = errors.New("task panicked")
)

// Default configuration values.
const (
	DefaultStartupTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTaskGrace       = 5 * time.Second
	DefaultEventQueueSize  = 10000

	// CreateTaskTimeout bounds how long CreateTask waits for the loop to
	// launch a task.
	CreateTaskTimeout = time.Second
)

// State is the lifecycle state of a Bridge.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds bridge timing and buffering settings.
type Config struct {
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	TaskGrace       time.Duration // Portion of the shutdown budget given to tasks
	EventQueueSize  int           // Ring capacity used when no sink is configured
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		TaskGrace:       DefaultTaskGrace,
		EventQueueSize:  DefaultEventQueueSize,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = def.StartupTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.TaskGrace <= 0 {
		c.TaskGrace = def.TaskGrace
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = def.EventQueueSize
	}
	return c
}

// Task is a unit of asynchronous work. ctx is cancelled when the task is
// cancelled or the bridge stops.
type Task func(ctx context.Context) (any, error)

// Stats is a diagnostic snapshot of a Bridge.
type Stats struct {
	State            State `json:"state"`
	PendingTasks     int   `json:"pending_tasks"`
	PendingCallbacks int   `json:"pending_callbacks"`
	QueuedEvents     int   `json:"queued_events"`
	DroppedEvents    int64 `json:"dropped_events"`
}
