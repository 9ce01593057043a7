package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: streamer-1
exchange:
  ws_url: wss://stream.example.com/ws/v1
  rest_url: https://api.example.com/v1
  symbols: [BTC-USD, ETH-USD]
reconnect:
  max_attempts: 10
  base_delay: 500ms
  max_delay: 30s
heartbeat:
  interval: 15s
circuit_breaker:
  failure_threshold: 3
  recovery_timeout: 2m
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "streamer-1", cfg.Instance.ID)
	assert.Equal(t, "wss://stream.example.com/ws/v1", cfg.Exchange.WSURL)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Exchange.Symbols)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 15*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.CircuitBreaker.RecoveryTimeout)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_WS_URL", "wss://env.example.com")

	yaml := `
instance:
  id: streamer-1
exchange:
  ws_url: ${TEST_WS_URL}
journal:
  database:
    password: ${TEST_DB_PASSWORD}
`
	cfg, err := Load(writeTempFile(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "wss://env.example.com", cfg.Exchange.WSURL)
	assert.Equal(t, "secret123", cfg.Journal.Database.Password)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeTempFile(t, "instance: [unclosed"))
	assert.ErrorContains(t, err, "parse config yaml")

	_, err = Load(writeTempFile(t, "heartbeat:\n  interval: often\n"))
	assert.ErrorContains(t, err, "parse config yaml")
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: streamer-1
exchange:
  ws_url: wss://stream.example.com
`
	cfg, err := LoadWithDefaults(writeTempFile(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, DefaultReconnectMaxAttempts, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, DefaultReconnectBaseDelay, cfg.Reconnect.BaseDelay)
	assert.Equal(t, DefaultReconnectMaxDelay, cfg.Reconnect.MaxDelay)
	assert.Equal(t, DefaultReconnectBackoffFactor, cfg.Reconnect.BackoffFactor)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Heartbeat.Interval)
	assert.Equal(t, DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, DefaultRecoveryTimeout, cfg.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, DefaultHalfOpenMaxCalls, cfg.CircuitBreaker.HalfOpenMaxCalls)
	assert.Equal(t, DefaultConnectTimeout, cfg.Connection.ConnectTimeout)
	assert.Equal(t, DefaultTaskCancelTimeout, cfg.Connection.TaskCancelTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Bridge.ShutdownTimeout)
	assert.Equal(t, DefaultTaskGrace, cfg.Bridge.TaskGrace)
	assert.Equal(t, DefaultChannels, cfg.Exchange.Channels)
	assert.Equal(t, DefaultDBPort, cfg.Journal.Database.Port)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultHealthPort, cfg.Health.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadAndValidate(t *testing.T) {
	_, err := LoadAndValidate(writeTempFile(t, "exchange:\n  ws_url: wss://x\n"))
	assert.EqualError(t, err, "validate config: instance.id is required")
}

func validConfig() StreamerConfig {
	cfg := StreamerConfig{
		Instance: InstanceConfig{ID: "test"},
		Exchange: ExchangeConfig{WSURL: "wss://stream.example.com"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	validDB := DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}

	tests := []struct {
		name    string
		mutate  func(*StreamerConfig)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*StreamerConfig) {},
		},
		{
			name:    "missing instance id",
			mutate:  func(c *StreamerConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing ws url",
			mutate:  func(c *StreamerConfig) { c.Exchange.WSURL = "" },
			wantErr: "exchange.ws_url is required",
		},
		{
			name:    "api key without private key",
			mutate:  func(c *StreamerConfig) { c.Exchange.APIKey = "key" },
			wantErr: "exchange.private_key_path is required when exchange.api_key is set",
		},
		{
			name:    "blank symbol",
			mutate:  func(c *StreamerConfig) { c.Exchange.Symbols = []string{"BTC-USD", " "} },
			wantErr: "exchange.symbols[1] is empty",
		},
		{
			name:    "negative max attempts",
			mutate:  func(c *StreamerConfig) { c.Reconnect.MaxAttempts = -1 },
			wantErr: "reconnect.max_attempts must be >= 1",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *StreamerConfig) { c.Reconnect.MaxDelay = 500 * time.Millisecond },
			wantErr: "reconnect.max_delay (500ms) cannot be less than base_delay (1s)",
		},
		{
			name:    "backoff factor below one",
			mutate:  func(c *StreamerConfig) { c.Reconnect.BackoffFactor = 0.5 },
			wantErr: "reconnect.backoff_factor must be >= 1",
		},
		{
			name:    "negative heartbeat",
			mutate:  func(c *StreamerConfig) { c.Heartbeat.Interval = -time.Second },
			wantErr: "heartbeat.interval must be > 0",
		},
		{
			name:    "negative failure threshold",
			mutate:  func(c *StreamerConfig) { c.CircuitBreaker.FailureThreshold = -1 },
			wantErr: "circuit_breaker.failure_threshold must be >= 1",
		},
		{
			name:    "task grace above shutdown timeout",
			mutate:  func(c *StreamerConfig) { c.Bridge.TaskGrace = time.Minute },
			wantErr: "bridge.task_grace (1m0s) cannot exceed shutdown_timeout (30s)",
		},
		{
			name: "journal missing db password",
			mutate: func(c *StreamerConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 1}
			},
			wantErr: "journal.database.password is required",
		},
		{
			name: "journal min_conns exceeds max_conns",
			mutate: func(c *StreamerConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = validDB
				c.Journal.Database.MinConns = 20
			},
			wantErr: "journal.database.min_conns (20) cannot exceed max_conns (10)",
		},
		{
			name: "journal enabled and valid",
			mutate: func(c *StreamerConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = validDB
			},
		},
		{
			name:    "journal disabled ignores database",
			mutate:  func(c *StreamerConfig) { c.Journal.Database = DBConfig{} },
			wantErr: "",
		},
		{
			name:    "bad log level",
			mutate:  func(c *StreamerConfig) { c.Logging.Level = "verbose" },
			wantErr: `logging.level must be one of debug, info, warn, error, got "verbose"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *StreamerConfig) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "health port out of range",
			mutate:  func(c *StreamerConfig) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
