package dex

import (
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/shopspring/decimal"
)

var (
	feeNumerator   = decimal.NewFromInt(997)
	feeDenominator = decimal.NewFromInt(1000)
)

// MidPrice is the pool ratio in XTZ per whole token, ignoring slippage and
// fees. Empty pools price at zero.
func MidPrice(ex Exchange) decimal.Decimal {
	if ex.TokenPool.IsZero() || ex.XTZPool.IsZero() {
		return decimal.Zero
	}
	xtz := ex.XTZPool.Shift(-tezos.XTZDecimals)
	tokens := ex.TokenPool.Shift(-ex.Token.Decimals)
	return xtz.Div(tokens)
}

// TokenToXTZRate returns the XTZ received for selling amount into the pool,
// using the constant product formula with the 0.3% liquidity provider fee.
func TokenToXTZRate(ex Exchange, amount tezos.TokenAmount) tezos.TokenAmount {
	if ex.TokenPool.IsZero() || ex.XTZPool.IsZero() || amount.IsZero() {
		return tezos.ZeroAmount(tezos.XTZDecimals)
	}
	in := amount.Raw
	if amount.Decimals != ex.Token.Decimals {
		in = amount.Normalised().Shift(ex.Token.Decimals).Truncate(0)
	}
	inWithFee := in.Mul(feeNumerator)
	out := inWithFee.Mul(ex.XTZPool).Div(ex.TokenPool.Mul(feeDenominator).Add(inWithFee))
	return tezos.TokenAmount{Raw: out.Truncate(0), Decimals: tezos.XTZDecimals}
}

// BestExchange returns the pool with the deepest XTZ side for the token.
func BestExchange(exchanges []Exchange, contract, tokenID string) (Exchange, bool) {
	key := tezos.TokenKey(contract, tokenID)
	var (
		best  Exchange
		found bool
	)
	for _, ex := range exchanges {
		if ex.Token.Key() != key {
			continue
		}
		if !found || ex.XTZPool.GreaterThan(best.XTZPool) {
			best = ex
			found = true
		}
	}
	return best, found
}

// Index keys the deepest pool per token for repeated lookups.
func Index(exchanges []Exchange) map[string]Exchange {
	out := make(map[string]Exchange, len(exchanges))
	for _, ex := range exchanges {
		key := ex.Token.Key()
		if cur, ok := out[key]; !ok || ex.XTZPool.GreaterThan(cur.XTZPool) {
			out[key] = ex
		}
	}
	return out
}
