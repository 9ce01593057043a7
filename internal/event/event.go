// Package event defines the notifications the streaming layer hands to
// downstream consumers and the Sink boundary they cross.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind.
type Type string

const (
	ConnectionState      Type = "connection.state"
	ConnectionStale      Type = "connection.stale"
	ConnectionFailure    Type = "connection.failure"
	ReconnectExhausted   Type = "reconnect.exhausted"
	SubscriptionRestored Type = "subscription.restored"
	SubscriptionFailed   Type = "subscription.failed"
	MarketMessage        Type = "market.message"
)

// Event is a single notification. Payload is opaque to this layer.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Type    Type      `json:"type"`
	Source  string    `json:"source"`
	Symbol  string    `json:"symbol,omitempty"`
	State   string    `json:"state,omitempty"`
	Message string    `json:"message,omitempty"`
	Payload []byte    `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// New creates an event with a fresh ID stamped with the current time.
func New(typ Type, source string) Event {
	return Event{
		ID:     uuid.New(),
		Type:   typ,
		Source: source,
		Time:   time.Now(),
	}
}

// WithSymbol returns a copy of e scoped to symbol.
func (e Event) WithSymbol(symbol string) Event {
	e.Symbol = symbol
	return e
}

// WithState returns a copy of e carrying a state name.
func (e Event) WithState(state string) Event {
	e.State = state
	return e
}

// WithMessage returns a copy of e carrying a human-readable message.
func (e Event) WithMessage(msg string) Event {
	e.Message = msg
	return e
}

// WithPayload returns a copy of e carrying payload.
func (e Event) WithPayload(payload []byte) Event {
	e.Payload = payload
	return e
}

// At returns a copy of e stamped with t.
func (e Event) At(t time.Time) Event {
	e.Time = t
	return e
}

// Sink consumes events. Publish must be safe for concurrent use and should
// not block for long; slow sinks buffer internally.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
