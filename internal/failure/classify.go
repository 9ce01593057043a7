package failure

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rule maps message keywords and kind-name fragments to an ErrorType.
type rule struct {
	typ      ErrorType
	keywords []string // matched against the lower-cased message
	kinds    []string // matched against lower-cased dynamic type names
}

// rules is evaluated in order; the first match wins.
var rules = []rule{
	{
		typ: Network,
		keywords: []string{
			"connection", "timeout", "network", "socket", "unreachable",
			"refused", "reset", "broken pipe", "eof",
		},
		kinds: []string{"timeout"},
	},
	{
		typ: Authentication,
		keywords: []string{
			"auth", "unauthorized", "forbidden", "invalid api", "signature",
			"permission", "credentials",
		},
	},
	{
		typ:      RateLimit,
		keywords: []string{"rate limit", "too many requests", "429", "throttle"},
	},
	{
		typ:      Symbol,
		keywords: []string{"symbol", "market not found", "invalid market", "unknown symbol"},
	},
	{
		typ:      Exchange,
		keywords: []string{"maintenance", "exchange", "unavailable", "503", "502"},
	},
	{
		typ:      Data,
		keywords: []string{"parse", "json", "format", "decode", "invalid data"},
		kinds:    []string{"json"},
	},
}

var retryAfterPattern = regexp.MustCompile(`retry[-_]?after[:\s]+(\d+)`)

// Classify returns the ErrorType of err. A nil error is Unknown.
func Classify(err error) ErrorType {
	if err == nil {
		return Unknown
	}

	// Deadlines surface from many layers with differing messages.
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return Network
	}

	msg := strings.ToLower(err.Error())
	kinds := kindNames(err)

	for _, r := range rules {
		if containsAny(msg, r.keywords) {
			return r.typ
		}
		for _, k := range kinds {
			if containsAny(k, r.kinds) {
				return r.typ
			}
		}
	}
	return Unknown
}

// MaxRetryAfter caps delays extracted by RetryAfter.
const MaxRetryAfter = time.Hour

// RetryAfter extracts a server-provided delay such as "Retry-After: 30"
// from a message. Values above MaxRetryAfter are clamped to it.
func RetryAfter(msg string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(strings.ToLower(msg))
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if secs > int(MaxRetryAfter/time.Second) {
		return MaxRetryAfter, true
	}
	return time.Duration(secs) * time.Second, true
}

// isTimeout walks the chain for anything reporting Timeout() == true,
// e.g. net.Error or os.ErrDeadlineExceeded.
func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// kindNames returns the lower-cased dynamic type names along the
// unwrap chain, e.g. "*json.syntaxerror".
func kindNames(err error) []string {
	var names []string
	var walk func(error)
	walk = func(e error) {
		for e != nil {
			names = append(names, strings.ToLower(fmt.Sprintf("%T", e)))
			switch u := e.(type) {
			case interface{ Unwrap() []error }:
				for _, inner := range u.Unwrap() {
					walk(inner)
				}
				return
			case interface{ Unwrap() error }:
				e = u.Unwrap()
			default:
				return
			}
		}
	}
	walk(err)
	return names
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
