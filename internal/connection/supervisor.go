package connection

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultSuperviseInterval is how often the Supervisor polls the Manager.
const DefaultSuperviseInterval = time.Second

// Supervisor drives a Manager: it connects, restores subscriptions and
// reconnects whenever the connection falls into Error.
type Supervisor struct {
	m        *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSupervisor creates a Supervisor polling m every interval.
func NewSupervisor(m *Manager, interval time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSuperviseInterval
	}
	return &Supervisor{
		m:        m,
		interval: interval,
		logger:   logger.With("component", "supervisor"),
	}
}

// Run connects, restores the subscription set and then keeps the
// connection alive until ctx is done. It returns ErrReconnectExhausted
// when the reconnect budget runs out and ErrFallback when the circuit
// breaker trips. Cancellation returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	ok, err := s.m.Connect(ctx)
	if err != nil {
		return s.exit(ctx, err)
	}
	if ok {
		res, err := s.m.RestoreSubscriptions(ctx)
		if err != nil {
			return s.exit(ctx, err)
		}
		s.logger.Info("initial subscriptions", "restored", res.Restored, "failed", res.Failed)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.step(ctx); err != nil {
			return s.exit(ctx, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// step inspects the Manager once and reconnects if needed.
func (s *Supervisor) step(ctx context.Context) error {
	info, err := s.m.ConnectionInfo(ctx)
	if err != nil {
		return err
	}

	if info.LastFailure != nil && info.LastFailure.ShouldFallback {
		s.logger.Error("circuit breaker requested fallback",
			"type", info.LastFailure.Type,
			"error", info.LastFailure.Message,
		)
		return ErrFallback
	}

	if info.State != StateError {
		return nil
	}

	ok, err := s.m.HandleReconnection(ctx)
	if err != nil {
		return err
	}
	if !ok && !info.CanReconnect {
		// The budget was already spent before this call.
		return ErrReconnectExhausted
	}
	return nil
}

func (s *Supervisor) exit(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
