// Package dex loads liquidity pool data and prices tokens against XTZ.
package dex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/brojonat/tzwallet/service/upstream"
	"github.com/shopspring/decimal"
)

// PoolToken is the non-XTZ side of a pool.
type PoolToken struct {
	Address  string `json:"address"`
	TokenID  string `json:"tokenId"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	Standard string `json:"standard,omitempty"`
}

// Key matches tezos.Token.Key.
func (t PoolToken) Key() string {
	return tezos.TokenKey(t.Address, t.TokenID)
}

// Exchange is one XTZ/token constant-product pool. Pools are raw integers:
// mutez for XTZ and the token's smallest unit for the token.
type Exchange struct {
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	XTZPool   decimal.Decimal `json:"tezPool"`
	TokenPool decimal.Decimal `json:"tokenPool"`
	Token     PoolToken       `json:"token"`
}

// Client fetches exchange records. A Client without a base URL returns no data.
type Client struct {
	api    *upstream.Client
	logger *slog.Logger
}

// NewClient wraps api; api may be nil to disable the feed.
func NewClient(api *upstream.Client, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// GetAllExchangesAndTokens returns every known pool.
func (c *Client) GetAllExchangesAndTokens(ctx context.Context) ([]Exchange, error) {
	if c.api == nil || c.api.BaseURL() == "" {
		return nil, nil
	}
	var exchanges []Exchange
	if err := c.api.GetJSON(ctx, "exchanges", "/exchanges", &exchanges); err != nil {
		return nil, fmt.Errorf("failed to fetch exchange data: %w", err)
	}
	c.logger.DebugContext(ctx, "fetched exchange data", "count", len(exchanges))
	return exchanges, nil
}
