package config

import "time"

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Instance       InstanceConfig       `yaml:"instance"`
	Exchange       ExchangeConfig       `yaml:"exchange"`
	Reconnect      ReconnectConfig      `yaml:"reconnect"`
	Heartbeat      HeartbeatConfig      `yaml:"heartbeat"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Connection     ConnectionConfig     `yaml:"connection"`
	Bridge         BridgeConfig         `yaml:"bridge"`
	Journal        JournalConfig        `yaml:"journal"`
	Logging        LoggingConfig        `yaml:"logging"`
	Health         HealthConfig         `yaml:"health"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ExchangeConfig holds exchange endpoint settings.
type ExchangeConfig struct {
	WSURL          string        `yaml:"ws_url"`
	RestURL        string        `yaml:"rest_url"`         // Empty disables the REST status probe
	APIKey         string        `yaml:"api_key"`          // API key ID; empty disables signing
	PrivateKeyPath string        `yaml:"private_key_path"` // Path to RSA private key PEM file
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	Symbols        []string      `yaml:"symbols"`
	Channels       []string      `yaml:"channels"`
}

// ReconnectConfig holds the reconnect backoff policy.
type ReconnectConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// HeartbeatConfig holds the watchdog interval.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// CircuitBreakerConfig holds breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// ConnectionConfig holds connection manager and WebSocket client settings.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	TaskCancelTimeout time.Duration `yaml:"task_cancel_timeout"`
	SubscribeRate     float64       `yaml:"subscribe_rate"` // Subscribes per second during restore
	SubscribeBurst    int           `yaml:"subscribe_burst"`
	SuperviseInterval time.Duration `yaml:"supervise_interval"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// BridgeConfig holds execution bridge timing.
type BridgeConfig struct {
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TaskGrace       time.Duration `yaml:"task_grace"`
	EventQueueSize  int           `yaml:"event_queue_size"`
}

// JournalConfig holds the connection event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // Optional rotated log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// HealthConfig holds the health server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
