package diskcache

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *DiskCache {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(t.TempDir(), logger)
	require.NoError(t, err)
	return c
}

func TestNormalizedKey(t *testing.T) {
	assert.Equal(t, "tz1abc", NormalizedKey("  TZ1abc\n"))
	assert.Equal(t, "balance-service-tz1abc", BalanceFile("tz1ABC"))
	assert.Equal(t, "activity-service-tz1abc", ActivityFile("tz1ABC"))
	assert.Equal(t, "activity-service-pending-tz1abc", ActivityPendingFile("tz1ABC"))
	assert.True(t, IsGlobalBalanceFile(ExchangeDataFile))
	assert.False(t, IsGlobalBalanceFile(BalanceFile("tz1abc")))
}

func TestDiskCache_ReadMissing(t *testing.T) {
	c := newTestCache(t)

	var acc tezos.Account
	assert.False(t, c.Read("nope", &acc))
	assert.True(t, acc.IsEmpty())
}

func TestDiskCache_AccountRoundTrip(t *testing.T) {
	c := newTestCache(t)
	alias := "Baker"
	idx := 2

	in := tezos.Account{
		WalletAddress: "tz1abc",
		XTZBalance:    tezos.Mutez(12_345_678),
		Tokens: []tezos.Token{{
			Name:               "Kolibri",
			Symbol:             "kUSD",
			TokenType:          tezos.TokenTypeFungible,
			Balance:            tezos.MustTokenAmount("1000000000000000000", 18),
			ContractAddress:    "KT1K9gCRgaLRFKTErYt1wVxA3Frb9FjasjTV",
			TokenID:            "0",
			IsFavourite:        true,
			FavouriteSortIndex: &idx,
		}},
		NFTs: []tezos.Token{{
			Name:            "Collection",
			TokenType:       tezos.TokenTypeNonFungible,
			ContractAddress: "KT1RJ6PbjHpwc3M5rw5s2Nbmefwbuwbdxton",
			Balance:         tezos.ZeroAmount(0),
			NFTs: []tezos.NFT{{
				ParentContract: "KT1RJ6PbjHpwc3M5rw5s2Nbmefwbuwbdxton",
				TokenID:        "77",
				Name:           "Piece",
				Balance:        tezos.MustTokenAmount("1", 0),
			}},
		}},
		Delegate: &tezos.Alias{Address: "tz1baker", Alias: &alias},
	}

	require.True(t, c.Write(BalanceFile(in.WalletAddress), in))

	var out tezos.Account
	require.True(t, c.Read(BalanceFile(in.WalletAddress), &out))

	assert.Equal(t, in.WalletAddress, out.WalletAddress)
	assert.True(t, in.XTZBalance.Equal(out.XTZBalance))
	require.Len(t, out.Tokens, 1)
	assert.Equal(t, in.Tokens[0].Symbol, out.Tokens[0].Symbol)
	assert.True(t, in.Tokens[0].Balance.Equal(out.Tokens[0].Balance))
	assert.Equal(t, int32(18), out.Tokens[0].Balance.Decimals)
	assert.Equal(t, idx, *out.Tokens[0].FavouriteSortIndex)
	assert.True(t, out.Tokens[0].IsFavourite)
	require.Len(t, out.NFTs, 1)
	require.Len(t, out.NFTs[0].NFTs, 1)
	assert.Equal(t, "77", out.NFTs[0].NFTs[0].TokenID)
	require.NotNil(t, out.Delegate)
	assert.Equal(t, alias, *out.Delegate.Alias)
}

func TestDiskCache_PendingListRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	in := []tezos.TzKTTransactionGroup{
		tezos.NewTransactionGroup([]tezos.TzKTTransaction{{
			ID:        11,
			Type:      tezos.OperationTransaction,
			SubType:   tezos.SubTypeSend,
			Status:    tezos.StatusUnconfirmed,
			Hash:      "op1",
			Counter:   42,
			Timestamp: ts,
			Sender:    tezos.Alias{Address: "tz1from"},
			Target:    &tezos.Alias{Address: "tz1to"},
			Amount:    tezos.Mutez(1_000_000),
			Parameter: map[string]string{"entrypoint": "transfer"},
		}}),
	}

	require.True(t, c.Write(ActivityPendingFile("tz1from"), in))

	var out []tezos.TzKTTransactionGroup
	require.True(t, c.Read(ActivityPendingFile("tz1from"), &out))
	require.Len(t, out, 1)
	assert.Equal(t, in[0].Hash, out[0].Hash)
	assert.Equal(t, in[0].ID, out[0].ID)
	assert.Equal(t, in[0].Status, out[0].Status)
	require.Len(t, out[0].Transactions, 1)
	got := out[0].Transactions[0]
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, int64(42), got.Counter)
	assert.Equal(t, "tz1to", got.Target.Address)
	assert.True(t, got.Amount.Equal(tezos.Mutez(1_000_000)))
	assert.Equal(t, "transfer", got.Parameter["entrypoint"])
}

func TestDiskCache_WriteOverwritesAndLeavesNoTempFiles(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Write("balance-service-a", map[string]int{"v": 1}))
	require.True(t, c.Write("balance-service-a", map[string]int{"v": 2}))

	var got map[string]int
	require.True(t, c.Read("balance-service-a", &got))
	assert.Equal(t, 2, got["v"])

	files, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "balance-service-a.json", files[0].Name())
}

func TestDiskCache_CorruptFileReadsAsMiss(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "broken.json"), []byte("{not json"), 0o644))

	var v map[string]any
	assert.False(t, c.Read("broken", &v))
}

func TestDiskCache_DeleteAndPrefixListing(t *testing.T) {
	c := newTestCache(t)
	for _, name := range []string{
		BalanceFile("tz1a"),
		BalanceFile("tz1b"),
		ActivityFile("tz1a"),
		ActivityPendingFile("tz1a"),
		ExchangeDataFile,
	} {
		require.True(t, c.Write(name, 1))
	}

	assert.Equal(t, []string{
		"activity-service-pending-tz1a",
		"activity-service-tz1a",
	}, c.AllFileNamesWith(ActivityPrefix))
	assert.Equal(t, []string{"activity-service-pending-tz1a"}, c.AllFileNamesWith(ActivityPendingPrefix))

	assert.True(t, c.Delete(BalanceFile("tz1a")))
	assert.True(t, c.Delete(BalanceFile("tz1a")), "deleting a missing entry succeeds")

	assert.True(t, DeleteAll(c, ActivityPrefix))
	assert.Empty(t, c.AllFileNamesWith(ActivityPrefix))
	assert.Equal(t, []string{
		"balance-service-exchangedata",
		"balance-service-tz1b",
	}, c.AllFileNamesWith(BalancePrefix))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	assert.True(t, m.Write("a", []int{1, 2}))

	var got []int
	require.True(t, m.Read("a", &got))
	assert.Equal(t, []int{1, 2}, got)

	m.FailWrites = true
	assert.False(t, m.Write("b", 1))
	assert.False(t, m.Has("b"))
	assert.Equal(t, 2, m.Writes)
}
