// Package breaker implements a three-state circuit breaker used to trip
// fallback after repeated systemic failures.
//
// A Breaker is not safe for concurrent use. The owner serializes access.
package breaker

import "time"

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; failures are counted.
	StateOpen                  // Tripped; attempts are rejected until the recovery timeout.
	StateHalfOpen              // Probation; a limited number of trial calls is allowed.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText lets State render by name in JSON diagnostics.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config configures a Breaker.
type Config struct {
	FailureThreshold int           // Failures in Closed before tripping to Open
	RecoveryTimeout  time.Duration // Time in Open before a trial is allowed
	HalfOpenMaxCalls int           // Successful trials required to close again
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Stats is a diagnostic snapshot of the breaker.
type Stats struct {
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	HalfOpenCalls   int       `json:"half_open_calls"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// Breaker is a Closed/Open/HalfOpen failure gate.
type Breaker struct {
	cfg Config
	now func() time.Time

	state           State
	failureCount    int // meaningful only in Closed
	halfOpenCalls   int // meaningful only in HalfOpen
	lastFailureTime time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a Breaker in the Closed state.
func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout < 0 {
		cfg.RecoveryTimeout = 0
	}
	if cfg.HalfOpenMaxCalls < 1 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}

	b := &Breaker{
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.halfOpenCalls++
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.toClosed()
		}
	case StateOpen:
		// A success while open does not shorten the recovery timeout.
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case StateHalfOpen:
		// One failure undoes probation.
		b.toOpen()
	case StateOpen:
		b.lastFailureTime = b.now()
	}
}

// CanAttempt reports whether a call may proceed. In Open it moves the
// breaker to HalfOpen once the recovery timeout has elapsed.
func (b *Breaker) CanAttempt() bool {
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
			b.toHalfOpen()
			return true
		}
		return false
	case StateHalfOpen:
		return b.halfOpenCalls < b.cfg.HalfOpenMaxCalls
	default:
		return false
	}
}

// ShouldTrip reports whether the breaker is Open.
func (b *Breaker) ShouldTrip() bool {
	return b.state == StateOpen
}

// Reset forces the breaker back to Closed with all counters zeroed.
func (b *Breaker) Reset() {
	b.toClosed()
	b.lastFailureTime = time.Time{}
}

// State returns the current state.
func (b *Breaker) State() State {
	return b.state
}

// Stats returns a diagnostic snapshot.
func (b *Breaker) Stats() Stats {
	return Stats{
		State:           b.state,
		FailureCount:    b.failureCount,
		HalfOpenCalls:   b.halfOpenCalls,
		LastFailureTime: b.lastFailureTime,
	}
}

func (b *Breaker) toOpen() {
	b.state = StateOpen
	b.lastFailureTime = b.now()
	b.halfOpenCalls = 0
}

func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.halfOpenCalls = 0
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCalls = 0
}
