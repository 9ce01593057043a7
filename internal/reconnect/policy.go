// Package reconnect computes reconnection delays and tracks the attempt budget.
package reconnect

import (
	"math"
	"math/rand/v2"
	"time"
)

// jitterFraction bounds the random spread added on top of the delay.
const jitterFraction = 0.1

// Config configures a Policy.
type Config struct {
	MaxAttempts   int           // Attempts allowed before giving up
	BaseDelay     time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Upper bound on the un-jittered delay
	BackoffFactor float64       // Multiplier applied per attempt
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   50,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// State is a snapshot of the policy counters.
type State struct {
	Attempts            int       `json:"attempts"`
	LastAttempt         time.Time `json:"last_attempt"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Policy is an exponential-backoff reconnect policy with an attempt budget.
//
// A Policy is not safe for concurrent use.
type Policy struct {
	cfg    Config
	now    func() time.Time
	jitter func() float64 // returns a value in [0, 1)

	attempts            int
	lastAttempt         time.Time
	consecutiveFailures int
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		p.now = now
	}
}

// WithJitter overrides the random source. fn must return values in [0, 1).
func WithJitter(fn func() float64) Option {
	return func(p *Policy) {
		p.jitter = fn
	}
}

// New creates a Policy.
func New(cfg Config, opts ...Option) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}

	p := &Policy{
		cfg:    cfg,
		now:    time.Now,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ShouldReconnect reports whether the attempt budget allows another attempt.
func (p *Policy) ShouldReconnect() bool {
	return p.attempts < p.cfg.MaxAttempts
}

// BaseDelay returns the un-jittered delay for the current attempt count.
func (p *Policy) BaseDelay() time.Duration {
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffFactor, float64(p.attempts))
	if d > float64(p.cfg.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Delay returns the delay before the next attempt, with up to 10% jitter
// added to spread reconnects across instances.
func (p *Policy) Delay() time.Duration {
	d := p.BaseDelay()
	return d + time.Duration(float64(d)*jitterFraction*p.jitter())
}

// RecordAttempt counts an attempt that has been started.
func (p *Policy) RecordAttempt() {
	p.attempts++
	p.lastAttempt = p.now()
}

// RecordSuccess resets the attempt budget.
func (p *Policy) RecordSuccess() {
	p.attempts = 0
	p.consecutiveFailures = 0
}

// RecordFailure counts a failed attempt. Attempts are tracked separately
// by RecordAttempt.
func (p *Policy) RecordFailure() {
	p.consecutiveFailures++
}

// Reset clears all counters.
func (p *Policy) Reset() {
	p.attempts = 0
	p.consecutiveFailures = 0
	p.lastAttempt = time.Time{}
}

// State returns a snapshot of the counters.
func (p *Policy) State() State {
	return State{
		Attempts:            p.attempts,
		LastAttempt:         p.lastAttempt,
		ConsecutiveFailures: p.consecutiveFailures,
	}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}
