package tzkt

import (
	"testing"
	"time"

	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alias(a string) *tezos.Alias {
	return &tezos.Alias{Address: a}
}

func token(symbol, contract, raw string, decimals int32) *tezos.Token {
	return &tezos.Token{
		Symbol:          symbol,
		TokenType:       tezos.TokenTypeFungible,
		ContractAddress: contract,
		TokenID:         "0",
		Balance:         tezos.MustTokenAmount(raw, decimals),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		tx   tezos.TzKTTransaction
		want tezos.TransactionSubType
	}{
		{
			name: "xtz send",
			tx:   tezos.TzKTTransaction{Type: tezos.OperationTransaction, Sender: tezos.Alias{Address: me}, Target: alias("tz1other"), Amount: tezos.Mutez(1)},
			want: tezos.SubTypeSend,
		},
		{
			name: "xtz receive",
			tx:   tezos.TzKTTransaction{Type: tezos.OperationTransaction, Sender: tezos.Alias{Address: "tz1other"}, Target: alias(me), Amount: tezos.Mutez(1)},
			want: tezos.SubTypeReceive,
		},
		{
			name: "delegation",
			tx:   tezos.TzKTTransaction{Type: tezos.OperationDelegation, Sender: tezos.Alias{Address: me}},
			want: tezos.SubTypeDelegate,
		},
		{
			name: "contract call",
			tx: tezos.TzKTTransaction{Type: tezos.OperationTransaction, Sender: tezos.Alias{Address: me}, Target: alias("KT1game"),
				Parameter: map[string]string{"entrypoint": "play"}},
			want: tezos.SubTypeContractCall,
		},
		{
			name: "token send via contract call",
			tx: tezos.TzKTTransaction{Type: tezos.OperationTransaction, Sender: tezos.Alias{Address: me}, Target: alias("KT1usd"),
				Parameter: map[string]string{"entrypoint": "transfer"}, PrimaryToken: token("USDS", "KT1usd", "1", 0),
				TokenFrom: alias(me), TokenTo: alias("tz1other")},
			want: tezos.SubTypeSend,
		},
		{
			name: "token receive from third party call",
			tx: tezos.TzKTTransaction{Type: tezos.OperationTransaction, Sender: tezos.Alias{Address: "tz1other"}, Target: alias("KT1usd"),
				Parameter: map[string]string{"entrypoint": "transfer"}, PrimaryToken: token("USDS", "KT1usd", "1", 0),
				TokenFrom: alias("tz1other"), TokenTo: alias(me)},
			want: tezos.SubTypeReceive,
		},
		{
			name: "unrelated",
			tx:   tezos.TzKTTransaction{Type: tezos.OperationTransaction, Sender: tezos.Alias{Address: "tz1a"}, Target: alias("tz1b")},
			want: tezos.SubTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.tx, me))
		})
	}
}

func TestGroupTransactions_BatchAndOrdering(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	txs := []tezos.TzKTTransaction{
		{ID: 12, Hash: "ooBatch", Type: tezos.OperationTransaction, Status: tezos.StatusApplied, Timestamp: ts,
			Sender: tezos.Alias{Address: me}, Target: alias("tz1b"), Amount: tezos.Mutez(2)},
		{ID: 11, Hash: "ooBatch", Type: tezos.OperationTransaction, Status: tezos.StatusApplied, Timestamp: ts,
			Sender: tezos.Alias{Address: me}, Target: alias("tz1a"), Amount: tezos.Mutez(1)},
		{ID: 10, Hash: "ooReveal", Type: tezos.OperationReveal, Sender: tezos.Alias{Address: me}},
		{ID: 5, Hash: "ooDelegate", Type: tezos.OperationDelegation, Status: tezos.StatusApplied,
			Sender: tezos.Alias{Address: me}, NewDelegate: alias("tz1baker")},
	}

	groups := GroupTransactions(txs, me)
	require.Len(t, groups, 2, "reveal is dropped")

	batch := groups[0]
	assert.Equal(t, "ooBatch", batch.Hash)
	assert.Equal(t, int64(12), batch.ID)
	assert.Equal(t, tezos.SubTypeSend, batch.GroupType)
	require.Len(t, batch.Transactions, 2)
	assert.Equal(t, int64(11), batch.Transactions[0].ID, "members in execution order")
	assert.Equal(t, tezos.SubTypeSend, batch.Transactions[0].SubType)

	assert.Equal(t, tezos.SubTypeDelegate, groups[1].GroupType)
}

func TestGroupTransactions_XTZToTokenExchange(t *testing.T) {
	txs := []tezos.TzKTTransaction{
		{ID: 41, Hash: "ooSwap", Type: tezos.OperationTransaction, Status: tezos.StatusApplied,
			Sender: tezos.Alias{Address: "KT1dex"}, Target: alias("KT1usd"),
			Parameter: map[string]string{"entrypoint": "transfer"}, Amount: tezos.Mutez(0),
			PrimaryToken: token("USDS", "KT1usd", "3000000", 6), TokenFrom: alias("KT1dex"), TokenTo: alias(me)},
		{ID: 40, Hash: "ooSwap", Type: tezos.OperationTransaction, Status: tezos.StatusApplied,
			Sender: tezos.Alias{Address: me}, Target: alias("KT1dex"),
			Parameter: map[string]string{"entrypoint": "xtzToToken"}, Amount: tezos.Mutez(5_000_000)},
	}

	groups := GroupTransactions(txs, me)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, tezos.SubTypeExchange, g.GroupType)
	require.NotNil(t, g.ExchangeSend)
	require.NotNil(t, g.ExchangeReceive)
	assert.True(t, g.ExchangeSend.IsXTZ())
	assert.Equal(t, "5", g.ExchangeSend.Balance.String())
	assert.Equal(t, "USDS", g.ExchangeReceive.Symbol)
	assert.Equal(t, "USDS", g.PrimaryToken.Symbol)
}

func TestGroupTransactions_TokenToXTZExchange(t *testing.T) {
	txs := []tezos.TzKTTransaction{
		{ID: 50, Hash: "ooSell", Type: tezos.OperationTransaction, Status: tezos.StatusApplied,
			Sender: tezos.Alias{Address: me}, Target: alias("KT1dex"),
			Parameter: map[string]string{"entrypoint": "tokenToXtz"}, Amount: tezos.Mutez(0)},
		{ID: 51, Hash: "ooSell", Type: tezos.OperationTransaction, Status: tezos.StatusApplied,
			Sender: tezos.Alias{Address: "KT1dex"}, Target: alias("KT1usd"),
			Parameter: map[string]string{"entrypoint": "transfer"},
			PrimaryToken: token("USDS", "KT1usd", "1000000", 6), TokenFrom: alias(me), TokenTo: alias("KT1dex")},
		{ID: 52, Hash: "ooSell", Type: tezos.OperationTransaction, Status: tezos.StatusApplied,
			Sender: tezos.Alias{Address: "KT1dex"}, Target: alias(me), Amount: tezos.Mutez(700_000)},
	}

	groups := GroupTransactions(txs, me)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, tezos.SubTypeExchange, g.GroupType)
	assert.Equal(t, "USDS", g.ExchangeSend.Symbol)
	assert.True(t, g.ExchangeReceive.IsXTZ())
	assert.Equal(t, "0.7", g.ExchangeReceive.Balance.String())
}

func TestGroupTransactions_FailedBatch(t *testing.T) {
	txs := []tezos.TzKTTransaction{
		{ID: 2, Hash: "ooFail", Type: tezos.OperationTransaction, Status: tezos.StatusBacktracked,
			Sender: tezos.Alias{Address: me}, Target: alias("tz1a"), Amount: tezos.Mutez(1)},
		{ID: 3, Hash: "ooFail", Type: tezos.OperationTransaction, Status: tezos.StatusFailed,
			Sender: tezos.Alias{Address: me}, Target: alias("KT1x"), Parameter: map[string]string{"entrypoint": "mint"},
			ErrorDescription: "script_rejected"},
	}

	groups := GroupTransactions(txs, me)
	require.Len(t, groups, 1)
	assert.Equal(t, tezos.SubTypeContractCall, groups[0].GroupType)
	assert.True(t, groups[0].Status.IsFailure())
	assert.Equal(t, "script_rejected", groups[0].ErrorDescription())
}
