package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/exchange-stream/internal/bridge"
	"github.com/rickgao/exchange-stream/internal/connection"
	"github.com/rickgao/exchange-stream/internal/failure"
	"github.com/rickgao/exchange-stream/internal/journal"
	"github.com/rickgao/exchange-stream/internal/version"
)

// connectionSource is the part of connection.Manager the health server
// reads.
type connectionSource interface {
	ConnectionInfo(ctx context.Context) (connection.Info, error)
	ErrorStatistics() failure.Statistics
}

// newHealthHandler creates the HTTP handler for health checks. br and
// writer may be nil.
func newHealthHandler(src connectionSource, br *bridge.Bridge, writer *journal.Writer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		info, err := src.ConnectionInfo(ctx)
		if err != nil {
			health.Status = "unhealthy"
			health.Components["connection"] = map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			}
		} else {
			health.Components["connection"] = info
			switch info.State {
			case connection.StateConnected:
			case connection.StateConnecting, connection.StateReconnecting:
				health.Status = "degraded"
			default:
				health.Status = "unhealthy"
			}
		}

		if br != nil {
			health.Components["bridge"] = br.Stats()
		}
		if writer != nil {
			health.Components["journal"] = writer.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("/debug/errors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.ErrorStatistics()); err != nil {
			logger.Warn("failed to write error statistics", "error", err)
		}
	})

	return mux
}
