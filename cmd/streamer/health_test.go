package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/exchange-stream/internal/bridge"
	"github.com/rickgao/exchange-stream/internal/connection"
	"github.com/rickgao/exchange-stream/internal/failure"
)

type stubSource struct {
	info  connection.Info
	err   error
	stats failure.Statistics
}

func (s stubSource) ConnectionInfo(context.Context) (connection.Info, error) { return s.info, s.err }
func (s stubSource) ErrorStatistics() failure.Statistics                     { return s.stats }

func TestHealthHandler_Status(t *testing.T) {
	tests := []struct {
		name       string
		src        stubSource
		wantStatus string
		wantCode   int
	}{
		{"connected", stubSource{info: connection.Info{State: connection.StateConnected}}, "healthy", http.StatusOK},
		{"reconnecting", stubSource{info: connection.Info{State: connection.StateReconnecting}}, "degraded", http.StatusOK},
		{"error", stubSource{info: connection.Info{State: connection.StateError}}, "unhealthy", http.StatusServiceUnavailable},
		{"bridge down", stubSource{err: bridge.ErrNotRunning}, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHealthHandler(tt.src, nil, nil, slog.Default())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Contains(t, body["components"], "connection")
		})
	}
}

func TestHealthHandler_IncludesBridgeStats(t *testing.T) {
	br := bridge.New(bridge.DefaultConfig(), nil)
	require.NoError(t, br.Start())
	defer br.Stop(time.Second)

	h := newHealthHandler(stubSource{info: connection.Info{State: connection.StateConnected}}, br, nil, slog.Default())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Components struct {
			Bridge map[string]any `json:"bridge"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Components.Bridge["state"])
}

func TestHealthHandler_ErrorStatistics(t *testing.T) {
	handler := failure.NewHandler(nil, nil)
	handler.Handle(errors.New("Rate limited. Retry-after: 30 seconds"), "subscribe")

	h := newHealthHandler(stubSource{stats: handler.Statistics()}, nil, nil, slog.Default())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/errors", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, "closed", body["circuit_breaker"])
}
