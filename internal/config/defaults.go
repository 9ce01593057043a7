package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout = 30 * time.Second
	DefaultMaxRetries = 3

	DefaultReconnectMaxAttempts   = 50
	DefaultReconnectBaseDelay     = 1 * time.Second
	DefaultReconnectMaxDelay      = 60 * time.Second
	DefaultReconnectBackoffFactor = 2.0

	DefaultHeartbeatInterval = 30 * time.Second

	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultHalfOpenMaxCalls = 3

	DefaultConnectTimeout    = 10 * time.Second
	DefaultTaskCancelTimeout = 5 * time.Second
	DefaultSubscribeRate     = 20.0
	DefaultSubscribeBurst    = 5
	DefaultSuperviseInterval = 1 * time.Second
	DefaultPingInterval      = 15 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultConnBufferSize    = 10000

	DefaultStartupTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTaskGrace       = 5 * time.Second
	DefaultEventQueueSize  = 10000

	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 10000
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2

	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 7

	DefaultHealthPort = 8080
)

// DefaultChannels is used when exchange.channels is empty.
var DefaultChannels = []string{"ticker"}

func (c *StreamerConfig) applyDefaults() {
	// Exchange defaults
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = DefaultAPITimeout
	}
	if c.Exchange.MaxRetries == 0 {
		c.Exchange.MaxRetries = DefaultMaxRetries
	}
	if len(c.Exchange.Channels) == 0 {
		c.Exchange.Channels = append([]string(nil), DefaultChannels...)
	}

	// Reconnect defaults
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.BackoffFactor == 0 {
		c.Reconnect.BackoffFactor = DefaultReconnectBackoffFactor
	}

	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}

	// Circuit breaker defaults
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.CircuitBreaker.RecoveryTimeout == 0 {
		c.CircuitBreaker.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.CircuitBreaker.HalfOpenMaxCalls == 0 {
		c.CircuitBreaker.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.TaskCancelTimeout == 0 {
		c.Connection.TaskCancelTimeout = DefaultTaskCancelTimeout
	}
	if c.Connection.SubscribeRate == 0 {
		c.Connection.SubscribeRate = DefaultSubscribeRate
	}
	if c.Connection.SubscribeBurst == 0 {
		c.Connection.SubscribeBurst = DefaultSubscribeBurst
	}
	if c.Connection.SuperviseInterval == 0 {
		c.Connection.SuperviseInterval = DefaultSuperviseInterval
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultConnBufferSize
	}

	// Bridge defaults
	if c.Bridge.StartupTimeout == 0 {
		c.Bridge.StartupTimeout = DefaultStartupTimeout
	}
	if c.Bridge.ShutdownTimeout == 0 {
		c.Bridge.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Bridge.TaskGrace == 0 {
		c.Bridge.TaskGrace = DefaultTaskGrace
	}
	if c.Bridge.EventQueueSize == 0 {
		c.Bridge.EventQueueSize = DefaultEventQueueSize
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
