package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/exchange-stream/internal/api"
	"github.com/rickgao/exchange-stream/internal/auth"
	"github.com/rickgao/exchange-stream/internal/breaker"
	"github.com/rickgao/exchange-stream/internal/bridge"
	"github.com/rickgao/exchange-stream/internal/config"
	"github.com/rickgao/exchange-stream/internal/connection"
	"github.com/rickgao/exchange-stream/internal/database"
	"github.com/rickgao/exchange-stream/internal/failure"
	"github.com/rickgao/exchange-stream/internal/journal"
	"github.com/rickgao/exchange-stream/internal/logging"
	"github.com/rickgao/exchange-stream/internal/reconnect"
	"github.com/rickgao/exchange-stream/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/streamer.local.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	// Environment first so ${VAR} in the config resolves
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envPath, "error", err)
		return 1
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger, logCloser, err := logging.New(cfg.Logging, nil)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Journal (optional)
	var (
		pool   *pgxpool.Pool
		writer *journal.Writer
	)
	var bridgeOpts []bridge.Option
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return 1
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to prepare journal schema", "error", err)
			return 1
		}

		writer = journal.NewWriter(journal.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		// Outlives ctx so that shutdown events are still written
		if err := writer.Start(context.Background()); err != nil {
			logger.Error("failed to start journal", "error", err)
			return 1
		}
		bridgeOpts = append(bridgeOpts, bridge.WithSink(writer))
	}

	br := bridge.New(bridge.Config{
		StartupTimeout:  cfg.Bridge.StartupTimeout,
		ShutdownTimeout: cfg.Bridge.ShutdownTimeout,
		TaskGrace:       cfg.Bridge.TaskGrace,
		EventQueueSize:  cfg.Bridge.EventQueueSize,
	}, logger, bridgeOpts...)
	if err := br.Start(); err != nil {
		logger.Error("failed to start bridge", "error", err)
		return 1
	}

	// Credentials (optional)
	var creds *auth.Credentials
	if cfg.Exchange.APIKey != "" {
		creds, err = auth.LoadCredentials(cfg.Exchange.APIKey, cfg.Exchange.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			br.Stop(0)
			return 1
		}
	}

	// REST status probe (optional)
	var status connection.StatusChecker
	if cfg.Exchange.RestURL != "" {
		opts := []api.ClientOption{
			api.WithLogger(logger),
			api.WithTimeout(cfg.Exchange.Timeout),
			api.WithRetries(cfg.Exchange.MaxRetries, time.Second),
		}
		if creds != nil {
			opts = append(opts, api.WithCredentials(creds))
		}
		status = api.NewClient(cfg.Exchange.RestURL, opts...)
	}

	client := connection.NewClient(connection.ClientConfig{
		URL:              cfg.Exchange.WSURL,
		Credentials:      creds,
		Status:           status,
		Channels:         cfg.Exchange.Channels,
		HandshakeTimeout: cfg.Connection.ConnectTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		PingTimeout:      cfg.Connection.PingTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		SubscribeTimeout: cfg.Connection.ConnectTimeout,
		BufferSize:       cfg.Connection.BufferSize,
	}, logger)

	failures := failure.NewHandler(breaker.New(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.CircuitBreaker.HalfOpenMaxCalls,
	}), logger)

	mgr := connection.NewManager(connection.ManagerConfig{
		HeartbeatInterval: cfg.Heartbeat.Interval,
		ConnectTimeout:    cfg.Connection.ConnectTimeout,
		TaskCancelTimeout: cfg.Connection.TaskCancelTimeout,
		SubscribeRate:     cfg.Connection.SubscribeRate,
		SubscribeBurst:    cfg.Connection.SubscribeBurst,
		Reconnect: reconnect.Config{
			MaxAttempts:   cfg.Reconnect.MaxAttempts,
			BaseDelay:     cfg.Reconnect.BaseDelay,
			MaxDelay:      cfg.Reconnect.MaxDelay,
			BackoffFactor: cfg.Reconnect.BackoffFactor,
		},
	}, client, br, failures, logger)
	client.SetActivityHook(mgr.RecordHeartbeat)

	for _, symbol := range cfg.Exchange.Symbols {
		if err := mgr.AddSubscription(ctx, symbol); err != nil {
			logger.Error("failed to add subscription", "symbol", symbol, "error", err)
			br.Stop(0)
			return 1
		}
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: newHealthHandler(mgr, br, writer, logger),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return connection.NewSupervisor(mgr, cfg.Connection.SuperviseInterval, logger).Run(gctx)
	})

	g.Go(func() error {
		pump(gctx, client, mgr, br, logger)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("streamer running",
		"symbols", len(cfg.Exchange.Symbols),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("streamer stopped with error", "error", err)
		exitCode = 1
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Bridge.ShutdownTimeout)
	defer shutdownCancel()

	if err := mgr.Disconnect(shutdownCtx); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}

	if !br.Stop(cfg.Bridge.ShutdownTimeout) {
		logger.Error("bridge did not stop in time")
		return 1
	}

	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Warn("journal stop failed", "error", err)
		}
	}

	logger.Info("streamer stopped")
	return exitCode
}
