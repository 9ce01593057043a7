package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/exchange-stream/internal/auth"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// retrySettings bounds doWithRetry. maxRetries counts retries after the
// first attempt.
type retrySettings struct {
	maxRetries int
	delay      time.Duration
}

// Client talks to the exchange REST API. The streamer only needs the
// status endpoint, which feeds liveness probes.
type Client struct {
	baseURL    string
	creds      *auth.Credentials
	httpClient *http.Client
	logger     *slog.Logger
	retry      retrySettings
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for baseURL. A trailing slash is dropped.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		retry:      retrySettings{maxRetries: defaultMaxRetries, delay: defaultRetryDelay},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")
	return c
}

// WithCredentials signs every request with creds.
func WithCredentials(creds *auth.Credentials) ClientOption {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets how often a retryable failure is retried and the first
// backoff delay. Negative counts are treated as zero.
func WithRetries(max int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if max < 0 {
			max = 0
		}
		c.retry = retrySettings{maxRetries: max, delay: delay}
	}
}

// WithLogger sets the logger. nil keeps the default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client, including its timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
