package reconnect

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedJitter(v float64) Option {
	return WithJitter(func() float64 { return v })
}

func expectedDelay(cfg Config, attempts int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempts))
	if d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

func TestPolicy_DelayWithinJitterBounds(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg)

	for attempt := 0; attempt < 20; attempt++ {
		want := expectedDelay(cfg, attempt)
		for i := 0; i < 50; i++ {
			got := p.Delay()
			assert.GreaterOrEqual(t, got, want, "attempt %d", attempt)
			assert.LessOrEqual(t, got, want+want/10, "attempt %d", attempt)
		}
		p.RecordAttempt()
	}
}

func TestPolicy_DelayNonDecreasingAndSaturates(t *testing.T) {
	cfg := Config{
		MaxAttempts:   100,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
	p := New(cfg, fixedJitter(0))

	var prev time.Duration
	for attempt := 0; attempt < 40; attempt++ {
		d := p.Delay()
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
		p.RecordAttempt()
	}
	assert.Equal(t, cfg.MaxDelay, prev)
}

func TestPolicy_DelaySequence(t *testing.T) {
	p := New(DefaultConfig(), fixedJitter(0))

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, p.Delay(), "attempt %d", i)
		p.RecordAttempt()
	}
}

func TestPolicy_MaxJitter(t *testing.T) {
	p := New(DefaultConfig(), fixedJitter(0.999999))
	got := p.Delay()
	assert.Greater(t, got, time.Second)
	assert.LessOrEqual(t, got, 1100*time.Millisecond)
}

func TestPolicy_ShouldReconnectBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	p := New(cfg)

	for i := 0; i < 3; i++ {
		require.True(t, p.ShouldReconnect(), "attempt %d", i)
		p.RecordAttempt()
	}
	assert.False(t, p.ShouldReconnect())

	p.RecordSuccess()
	assert.True(t, p.ShouldReconnect())
	assert.Equal(t, 0, p.State().Attempts)
}

func TestPolicy_ZeroBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	p := New(cfg)

	assert.False(t, p.ShouldReconnect())
}

func TestPolicy_FailureDoesNotCountAttempt(t *testing.T) {
	clock := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	p := New(DefaultConfig(), WithClock(func() time.Time { return clock }))

	p.RecordFailure()
	p.RecordFailure()
	st := p.State()
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.True(t, st.LastAttempt.IsZero())

	p.RecordAttempt()
	st = p.State()
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, clock, st.LastAttempt)

	p.RecordSuccess()
	st = p.State()
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	// Success keeps the last attempt stamp for diagnostics
	assert.Equal(t, clock, st.LastAttempt)
}

func TestPolicy_Reset(t *testing.T) {
	p := New(DefaultConfig())
	p.RecordAttempt()
	p.RecordFailure()

	p.Reset()
	assert.Equal(t, State{}, p.State())
}

func TestNew_NormalizesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want Config
	}{
		{
			name: "zero config uses defaults",
			cfg:  Config{},
			want: Config{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2},
		},
		{
			name: "max below base is raised",
			cfg:  Config{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: time.Second, BackoffFactor: 1.5},
			want: Config{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 2 * time.Second, BackoffFactor: 1.5},
		},
		{
			name: "negative attempts clamp to zero",
			cfg:  Config{MaxAttempts: -1, BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2},
			want: Config{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.cfg).Config())
		})
	}
}
