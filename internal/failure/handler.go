// Package failure classifies raw exchange failures and maps each class to a
// response strategy: retry, reconnect, or trip to fallback.
package failure

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/exchange-stream/internal/breaker"
)

// Fixed retry delays per ErrorType.
const (
	NetworkRetryDelay          = 5 * time.Second
	ExchangeRetryDelay         = 30 * time.Second
	DataRetryDelay             = 1 * time.Second
	UnknownRetryDelay          = 10 * time.Second
	DefaultRateLimitRetryDelay = 60 * time.Second
)

// Handler classifies failures, keeps per-type counters and feeds the
// circuit breaker. It is safe for concurrent use.
type Handler struct {
	logger *slog.Logger

	mu      sync.Mutex
	breaker *breaker.Breaker
	counts  map[ErrorType]int
	total   int
	last    *Response
}

// NewHandler creates a Handler that owns cb. A nil cb gets a breaker with
// default settings.
func NewHandler(cb *breaker.Breaker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cb == nil {
		cb = breaker.New(breaker.DefaultConfig())
	}
	return &Handler{
		logger:  logger,
		breaker: cb,
		counts:  make(map[ErrorType]int, len(Types)),
	}
}

// Handle classifies err and returns the response to apply. where names the
// operation that failed and is used for logging only.
func (h *Handler) Handle(err error, where string) Response {
	if err == nil {
		return Response{}
	}

	typ := Classify(err)
	msg := err.Error()

	h.mu.Lock()
	h.counts[typ]++
	h.total++
	resp := h.respond(typ, msg)
	last := resp
	h.last = &last
	h.mu.Unlock()

	h.log(resp, where, err)
	return resp
}

// respond applies the response table. Caller holds h.mu.
func (h *Handler) respond(typ ErrorType, msg string) Response {
	resp := Response{Type: typ, Message: msg}

	switch typ {
	case Network:
		resp.Severity = High
		resp.ShouldRetry = true
		resp.RetryDelay = NetworkRetryDelay
		resp.ShouldReconnect = true

	case Authentication:
		// Wrong credentials never self-heal.
		resp.Severity = Critical
		h.breaker.RecordFailure()
		resp.ShouldFallback = h.breaker.ShouldTrip()

	case RateLimit:
		resp.Severity = Medium
		resp.ShouldRetry = true
		resp.RetryDelay = DefaultRateLimitRetryDelay
		if d, ok := RetryAfter(msg); ok {
			resp.RetryDelay = d
		}

	case Symbol:
		// Isolated to one symbol; the connection is fine.
		resp.Severity = Low

	case Exchange:
		resp.Severity = High
		resp.ShouldRetry = true
		resp.RetryDelay = ExchangeRetryDelay
		resp.ShouldReconnect = true

	case Data:
		resp.Severity = Medium
		resp.ShouldRetry = true
		resp.RetryDelay = DataRetryDelay
		h.breaker.RecordFailure()
		resp.ShouldFallback = h.breaker.ShouldTrip()

	case Unknown:
		resp.Severity = High
		resp.ShouldRetry = true
		resp.RetryDelay = UnknownRetryDelay
		resp.ShouldReconnect = true
		h.breaker.RecordFailure()
		resp.ShouldFallback = h.breaker.ShouldTrip()

	default:
		panic("failure: unhandled error type " + typ.String())
	}

	return resp
}

func (h *Handler) log(resp Response, where string, err error) {
	attrs := []any{
		"where", where,
		"type", resp.Type,
		"severity", resp.Severity,
		"retry", resp.ShouldRetry,
		"retry_delay", resp.RetryDelay,
		"reconnect", resp.ShouldReconnect,
		"error", err,
	}

	switch {
	case resp.ShouldFallback:
		h.logger.Warn("circuit breaker tripped, fallback required", attrs...)
	case resp.Severity >= Critical:
		h.logger.Error("critical failure", attrs...)
	case resp.Severity >= High:
		h.logger.Warn("failure", attrs...)
	default:
		h.logger.Info("failure", attrs...)
	}
}

// RecordSuccess tells the breaker that an operation succeeded.
func (h *Handler) RecordSuccess() {
	h.mu.Lock()
	h.breaker.RecordSuccess()
	h.mu.Unlock()
}

// CanAttempt reports whether the breaker allows another attempt.
func (h *Handler) CanAttempt() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.breaker.CanAttempt()
}

// ResetBreaker forces the breaker closed. Counters are kept.
func (h *Handler) ResetBreaker() {
	h.mu.Lock()
	h.breaker.Reset()
	h.mu.Unlock()
}

// Last returns the most recent response, if any.
func (h *Handler) Last() (Response, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return Response{}, false
	}
	return *h.last, true
}

// Statistics returns per-type counts, the total and the breaker state.
func (h *Handler) Statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[ErrorType]int, len(Types))
	for _, t := range Types {
		counts[t] = h.counts[t]
	}

	var last *Response
	if h.last != nil {
		cp := *h.last
		last = &cp
	}

	return Statistics{
		Counts:  counts,
		Total:   h.total,
		Breaker: h.breaker.State(),
		Last:    last,
	}
}
