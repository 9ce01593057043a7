package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Exchange.WSURL == "" {
		return errors.New("exchange.ws_url is required")
	}
	if c.Exchange.APIKey != "" && c.Exchange.PrivateKeyPath == "" {
		return errors.New("exchange.private_key_path is required when exchange.api_key is set")
	}
	for i, s := range c.Exchange.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("exchange.symbols[%d] is empty", i)
		}
	}

	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be less than base_delay (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.BackoffFactor < 1 {
		return errors.New("reconnect.backoff_factor must be >= 1")
	}

	if c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat.interval must be > 0")
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return errors.New("circuit_breaker.failure_threshold must be >= 1")
	}
	if c.CircuitBreaker.RecoveryTimeout < 0 {
		return errors.New("circuit_breaker.recovery_timeout must be >= 0")
	}
	if c.CircuitBreaker.HalfOpenMaxCalls < 1 {
		return errors.New("circuit_breaker.half_open_max_calls must be >= 1")
	}

	if c.Connection.SubscribeRate <= 0 {
		return errors.New("connection.subscribe_rate must be > 0")
	}
	if c.Connection.SubscribeBurst < 1 {
		return errors.New("connection.subscribe_burst must be >= 1")
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}

	if c.Bridge.TaskGrace > c.Bridge.ShutdownTimeout {
		return fmt.Errorf("bridge.task_grace (%s) cannot exceed shutdown_timeout (%s)",
			c.Bridge.TaskGrace, c.Bridge.ShutdownTimeout)
	}
	if c.Bridge.EventQueueSize < 1 {
		return errors.New("bridge.event_queue_size must be >= 1")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
