package main

import (
	"context"
	"log/slog"

	"github.com/rickgao/exchange-stream/internal/connection"
	"github.com/rickgao/exchange-stream/internal/event"
	"github.com/rickgao/exchange-stream/internal/failure"
)

// frameSource is the part of connection.Client the pump drains.
type frameSource interface {
	Messages() <-chan connection.TimestampedMessage
	Errors() <-chan error
}

// failureReporter is the part of connection.Manager the pump reports to.
type failureReporter interface {
	ReportFailure(ctx context.Context, err error, where string) (failure.Response, error)
}

type eventEmitter interface {
	EmitEvent(ev event.Event)
}

// pump feeds client failures into the manager and forwards frames that no
// symbol stream claimed.
func pump(ctx context.Context, src frameSource, reporter failureReporter, emitter eventEmitter, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-src.Errors():
			resp, rerr := reporter.ReportFailure(ctx, err, "read")
			if rerr != nil {
				logger.Warn("failed to report read failure", "error", rerr, "read_error", err)
				continue
			}
			logger.Debug("read failure classified",
				"type", resp.Type,
				"reconnect", resp.ShouldReconnect,
				"fallback", resp.ShouldFallback,
			)
		case msg := <-src.Messages():
			emitter.EmitEvent(event.New(event.MarketMessage, "ws_client").
				WithSymbol(msg.Symbol).
				WithPayload(msg.Data).
				At(msg.ReceivedAt))
		}
	}
}
