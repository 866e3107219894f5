package dex

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/brojonat/tzwallet/service/upstream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pool(name string, xtzMutez, tokenRaw int64, decimals int32) Exchange {
	return Exchange{
		Name:      name,
		Address:   "KT1" + name,
		XTZPool:   decimal.NewFromInt(xtzMutez),
		TokenPool: decimal.NewFromInt(tokenRaw),
		Token:     PoolToken{Address: "KT1usd", TokenID: "0", Symbol: "USDS", Decimals: decimals},
	}
}

func TestMidPrice(t *testing.T) {
	// 1000 XTZ against 2000 tokens with 6 decimals: 0.5 XTZ per token
	ex := pool("a", 1_000_000_000, 2_000_000_000, 6)
	assert.True(t, MidPrice(ex).Equal(decimal.RequireFromString("0.5")))

	// different token precision
	ex = pool("b", 3_000_000, 100_000_000, 8)
	assert.True(t, MidPrice(ex).Equal(decimal.NewFromInt(3)))

	assert.True(t, MidPrice(pool("empty", 0, 0, 6)).IsZero())
}

func TestTokenToXTZRate(t *testing.T) {
	ex := pool("a", 1_000_000_000, 1_000_000_000, 6)

	// selling 10 tokens into a 1000/1000 pool
	out := TokenToXTZRate(ex, tezos.MustTokenAmount("10000000", 6))
	// 10e6*997*1e9 / (1e9*1000 + 10e6*997) = 9871580.343... mutez
	assert.Equal(t, "9.87158", out.String())
	assert.Equal(t, tezos.XTZDecimals, out.Decimals)

	assert.True(t, TokenToXTZRate(pool("empty", 0, 0, 6), tezos.MustTokenAmount("1", 6)).IsZero())
	assert.True(t, TokenToXTZRate(ex, tezos.ZeroAmount(6)).IsZero())
}

func TestBestExchangeAndIndex(t *testing.T) {
	shallow := pool("shallow", 10, 10, 6)
	deep := pool("deep", 1000, 10, 6)
	other := pool("other", 99999, 10, 6)
	other.Token.Address = "KT1other"

	best, ok := BestExchange([]Exchange{shallow, deep, other}, "KT1usd", "0")
	require.True(t, ok)
	assert.Equal(t, "deep", best.Name)

	_, ok = BestExchange([]Exchange{shallow}, "KT1none", "0")
	assert.False(t, ok)

	idx := Index([]Exchange{shallow, deep, other})
	assert.Len(t, idx, 2)
	assert.Equal(t, "deep", idx["KT1usd:0"].Name)
}

func TestGetAllExchangesAndTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/exchanges", r.URL.Path)
		w.Write([]byte(`[{"name":"quipu","address":"KT1dex","tezPool":"5000000","tokenPool":"2000",
			"token":{"address":"KT1usd","tokenId":"0","symbol":"USDS","decimals":3}}]`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(upstream.New(upstream.Options{Service: "dex", BaseURL: srv.URL}, nil, logger), logger)

	exchanges, err := c.GetAllExchangesAndTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "KT1usd:0", exchanges[0].Token.Key())
	assert.True(t, MidPrice(exchanges[0]).Equal(decimal.RequireFromString("2.5")))
}

func TestGetAllExchangesAndTokens_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(nil, logger)

	exchanges, err := c.GetAllExchangesAndTokens(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, exchanges)
}
