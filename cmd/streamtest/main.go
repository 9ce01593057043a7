// streamtest opens one exchange session, subscribes the configured symbols
// and prints every frame to the console. It bypasses the manager, so no
// reconnect or breaker logic runs.
//
// Usage: go run ./cmd/streamtest -config configs/streamer.example.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/exchange-stream/internal/api"
	"github.com/rickgao/exchange-stream/internal/auth"
	"github.com/rickgao/exchange-stream/internal/config"
	"github.com/rickgao/exchange-stream/internal/connection"
	"github.com/rickgao/exchange-stream/internal/failure"
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var creds *auth.Credentials
	if cfg.Exchange.APIKey != "" {
		creds, err = auth.LoadCredentials(cfg.Exchange.APIKey, cfg.Exchange.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		logger.Info("using API credentials", "key_id", creds.KeyID)
	}

	var status connection.StatusChecker
	if cfg.Exchange.RestURL != "" {
		opts := []api.ClientOption{api.WithLogger(logger), api.WithTimeout(cfg.Exchange.Timeout)}
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
	defer client.Close()

	if err := client.ProbeLiveness(ctx); err != nil {
		logger.Error("probe failed", "error", err, "type", failure.Classify(err))
		os.Exit(1)
	}
	logger.Info("connected", "url", cfg.Exchange.WSURL)

	for _, symbol := range cfg.Exchange.Symbols {
		if err := client.Subscribe(ctx, symbol); err != nil {
			logger.Warn("subscribe failed", "symbol", symbol, "error", err, "type", failure.Classify(err))
			continue
		}
		logger.Info("subscribed", "symbol", symbol)
	}

	var received int
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logger.Info("streaming started - press Ctrl+C to stop")
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "received", received)
			return
		case err := <-client.Errors():
			logger.Error("session failed", "error", err, "type", failure.Classify(err))
			os.Exit(1)
		case msg := <-client.Messages():
			received++
			printMessage(msg, *verbose)
		case <-ticker.C:
			logger.Info("stats", "received", received, "connected", client.IsConnected())
		}
	}
}

func printMessage(msg connection.TimestampedMessage, verbose bool) {
	if !verbose {
		fmt.Printf("[%s] symbol=%s bytes=%d\n",
			msg.ReceivedAt.Format(time.TimeOnly), msg.Symbol, len(msg.Data))
		return
	}
	var pretty any
	if err := json.Unmarshal(msg.Data, &pretty); err != nil {
		fmt.Printf("[%s] symbol=%s raw=%s\n", msg.ReceivedAt.Format(time.TimeOnly), msg.Symbol, msg.Data)
		return
	}
	data, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Printf("[%s] symbol=%s\n%s\n", msg.ReceivedAt.Format(time.TimeOnly), msg.Symbol, data)
}
