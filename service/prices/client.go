// Package prices fetches the XTZ fiat price and fiat exchange rates from CoinGecko.
package prices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brojonat/tzwallet/service/upstream"
	"github.com/shopspring/decimal"
)

var ErrMissingUSD = errors.New("exchange rate table has no usd entry")

// ExchangeRate is one currency expressed relative to USD.
type ExchangeRate struct {
	Code string          `json:"code"`
	Name string          `json:"name"`
	Unit string          `json:"unit"`
	Type string          `json:"type"`
	Rate decimal.Decimal `json:"rate"`
}

// ExchangeRates maps lowercase currency code to its USD-relative rate.
type ExchangeRates map[string]ExchangeRate

// Convert turns a USD amount into currency code. Unknown codes return false.
func (r ExchangeRates) Convert(usd decimal.Decimal, code string) (decimal.Decimal, bool) {
	rate, ok := r[strings.ToLower(code)]
	if !ok {
		return decimal.Zero, false
	}
	return usd.Mul(rate.Rate), true
}

type simplePriceResponse map[string]map[string]decimal.Decimal

type exchangeRatesResponse struct {
	Rates map[string]struct {
		Name  string          `json:"name"`
		Unit  string          `json:"unit"`
		Value decimal.Decimal `json:"value"`
		Type  string          `json:"type"`
	} `json:"rates"`
}

// Client reads CoinGecko's public API.
type Client struct {
	api    *upstream.Client
	logger *slog.Logger
}

func NewClient(api *upstream.Client, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// FetchTezosPrice returns the USD price of one XTZ.
func (c *Client) FetchTezosPrice(ctx context.Context) (decimal.Decimal, error) {
	var resp simplePriceResponse
	if err := c.api.GetJSON(ctx, "simple_price", "/simple/price?ids=tezos&vs_currencies=usd", &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch tezos price: %w", err)
	}
	price, ok := resp["tezos"]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("tezos usd price missing from response")
	}
	return price, nil
}

// FetchExchangeRates returns every currency CoinGecko lists, rebased from
// BTC to USD so that rates["usd"] is 1.
func (c *Client) FetchExchangeRates(ctx context.Context) (ExchangeRates, error) {
	var resp exchangeRatesResponse
	if err := c.api.GetJSON(ctx, "exchange_rates", "/exchange_rates", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch exchange rates: %w", err)
	}

	usd, ok := resp.Rates["usd"]
	if !ok || usd.Value.IsZero() {
		return nil, ErrMissingUSD
	}

	rates := make(ExchangeRates, len(resp.Rates))
	for code, r := range resp.Rates {
		rates[code] = ExchangeRate{
			Code: code,
			Name: r.Name,
			Unit: r.Unit,
			Type: r.Type,
			Rate: r.Value.Div(usd.Value),
		}
	}
	c.logger.DebugContext(ctx, "fetched exchange rates", "count", len(rates))
	return rates, nil
}
