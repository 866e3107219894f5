package balance

import (
	"github.com/brojonat/tzwallet/service/dex"
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/shopspring/decimal"
)

// EstimateTotalXTZ values acc in XTZ: the native balance plus each fungible
// token's balance at its pool mid price. Tokens without a pool count as zero.
func EstimateTotalXTZ(acc tezos.Account, pools map[string]dex.Exchange) decimal.Decimal {
	total := acc.XTZBalance.Normalised()
	for _, t := range acc.Tokens {
		ex, ok := pools[t.Key()]
		if !ok {
			continue
		}
		total = total.Add(t.Balance.Normalised().Mul(dex.MidPrice(ex)))
	}
	return total
}
