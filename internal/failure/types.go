package failure

import (
	"fmt"
	"time"

	"github.com/rickgao/exchange-stream/internal/breaker"
)

// ErrorType is the classification of a raw failure.
type ErrorType int

const (
	Network ErrorType = iota
	Authentication
	RateLimit
	Symbol
	Exchange
	Data
	Unknown
)

// Types lists every ErrorType in classification order.
var Types = []ErrorType{Network, Authentication, RateLimit, Symbol, Exchange, Data, Unknown}

// String returns the lower-case type name.
func (t ErrorType) String() string {
	switch t {
	case Network:
		return "network"
	case Authentication:
		return "authentication"
	case RateLimit:
		return "rate_limit"
	case Symbol:
		return "symbol"
	case Exchange:
		return "exchange"
	case Data:
		return "data"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("error_type(%d)", int(t))
	}
}

// MarshalText renders the type by name, including as a JSON map key.
func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Severity ranks how urgently a failure needs attention.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

// String returns the lower-case severity name.
func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Response tells the caller how to react to a classified failure.
// It is a plain value; copies are independent.
type Response struct {
	Type            ErrorType     `json:"type"`
	Severity        Severity      `json:"severity"`
	ShouldRetry     bool          `json:"should_retry"`
	RetryDelay      time.Duration `json:"retry_delay"`
	ShouldReconnect bool          `json:"should_reconnect"`
	ShouldFallback  bool          `json:"should_fallback"`
	Message         string        `json:"message"`
}

// Statistics is a diagnostic snapshot of a Handler.
type Statistics struct {
	Counts  map[ErrorType]int `json:"counts"`
	Total   int               `json:"total"`
	Breaker breaker.State     `json:"circuit_breaker"`
	Last    *Response         `json:"last_error,omitempty"`
}
