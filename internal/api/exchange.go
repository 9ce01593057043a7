package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrExchangeInactive is returned by CheckStatus when the exchange reports
// itself as down.
var ErrExchangeInactive = errors.New("exchange unavailable: maintenance")

// Status is the body of GET /exchange/status.
type Status struct {
	ExchangeActive      bool   `json:"exchange_active"`
	TradingActive       bool   `json:"trading_active"`
	EstimatedResumeTime string `json:"exchange_estimated_resume_time,omitempty"`
}

// GetExchangeStatus fetches the current exchange status.
func (c *Client) GetExchangeStatus(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.get(ctx, "/exchange/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get exchange status: %w", err)
	}
	return &resp, nil
}

// CheckStatus returns nil when the exchange is active and
// ErrExchangeInactive when it is not. Trading being halted alone does not
// count as inactive, since the stream stays up during halts.
func (c *Client) CheckStatus(ctx context.Context) error {
	status, err := c.GetExchangeStatus(ctx)
	if err != nil {
		return err
	}
	if status.ExchangeActive {
		return nil
	}
	if status.EstimatedResumeTime != "" {
		return fmt.Errorf("%w (resume at %s)", ErrExchangeInactive, status.EstimatedResumeTime)
	}
	return ErrExchangeInactive
}
