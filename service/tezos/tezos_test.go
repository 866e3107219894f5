package tezos

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHash(b byte) []byte {
	return bytes.Repeat([]byte{b}, 20)
}

func TestEncodeAddress_RoundTripsThroughValidate(t *testing.T) {
	for _, kind := range []AddressKind{KindTz1, KindTz2, KindTz3, KindKT1} {
		t.Run(string(kind), func(t *testing.T) {
			addr, err := EncodeAddress(kind, testHash(7))
			require.NoError(t, err)
			assert.Len(t, addr, 36)
			assert.Equal(t, string(kind), addr[:3])
			assert.NoError(t, ValidateAddress(addr))
		})
	}
}

func TestEncodeAddress_RejectsBadInput(t *testing.T) {
	_, err := EncodeAddress("tz9", testHash(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = EncodeAddress(KindTz1, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestValidateAddress(t *testing.T) {
	valid, err := EncodeAddress(KindTz1, testHash(42))
	require.NoError(t, err)

	// flip the last character to break the checksum
	last := valid[len(valid)-1]
	replacement := byte('2')
	if last == replacement {
		replacement = '3'
	}
	corrupted := valid[:len(valid)-1] + string(replacement)

	tests := []struct {
		name    string
		address string
		wantErr error
	}{
		{"valid", valid, nil},
		{"too short", "tz1abc", ErrInvalidAddress},
		{"unknown prefix", "zz1" + valid[3:], ErrInvalidAddress},
		{"not base58", "tz1" + "0OIl" + valid[7:], ErrInvalidAddress},
		{"bad checksum", corrupted, ErrInvalidChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIsContract(t *testing.T) {
	kt, err := EncodeAddress(KindKT1, testHash(3))
	require.NoError(t, err)
	tz, err := EncodeAddress(KindTz1, testHash(3))
	require.NoError(t, err)

	assert.True(t, IsContract(kt))
	assert.False(t, IsContract(tz))
}

func TestTokenAmount(t *testing.T) {
	t.Run("normalised uses decimals", func(t *testing.T) {
		a := MustTokenAmount("1500000", 6)
		assert.Equal(t, "1.5", a.String())
	})

	t.Run("rejects fractional raw", func(t *testing.T) {
		_, err := NewTokenAmount("1.5", 6)
		assert.Error(t, err)
	})

	t.Run("empty raw is zero", func(t *testing.T) {
		a, err := NewTokenAmount("", 8)
		require.NoError(t, err)
		assert.True(t, a.IsZero())
		assert.Equal(t, int32(8), a.Decimals)
	})

	t.Run("from normalised truncates below precision", func(t *testing.T) {
		a := XTZ(decimal.RequireFromString("1.2345678"))
		assert.True(t, a.Equal(Mutez(1234567)))
	})

	t.Run("add same precision", func(t *testing.T) {
		sum := Mutez(10_000_000).Add(Mutez(5_000_000))
		assert.True(t, sum.Equal(XTZ(decimal.NewFromInt(15))))
	})

	t.Run("add mixed precision", func(t *testing.T) {
		sum := MustTokenAmount("1", 0).Add(MustTokenAmount("25", 2))
		assert.Equal(t, int32(2), sum.Decimals)
		assert.Equal(t, "1.25", sum.String())
	})
}

func TestTokenKey(t *testing.T) {
	assert.Equal(t, "KT1x:0", TokenKey("KT1x", ""))
	assert.Equal(t, "KT1x:12", TokenKey("KT1x", "12"))
	assert.Equal(t, "KT1x:5", NFT{ParentContract: "KT1x", TokenID: "5"}.Key())
}

func TestNewTransactionGroup(t *testing.T) {
	now := time.Now()

	t.Run("empty", func(t *testing.T) {
		g := NewTransactionGroup(nil)
		assert.Equal(t, SubTypeUnknown, g.GroupType)
		assert.True(t, g.FirstTimestamp().IsZero())
	})

	t.Run("takes hash and max id", func(t *testing.T) {
		g := NewTransactionGroup([]TzKTTransaction{
			{ID: 4, Hash: "oo1", SubType: SubTypeSend, Status: StatusApplied, Timestamp: now},
			{ID: 9, Hash: "oo1", SubType: SubTypeSend, Status: StatusApplied, Timestamp: now.Add(time.Second)},
		})
		assert.Equal(t, "oo1", g.Hash)
		assert.Equal(t, int64(9), g.ID)
		assert.Equal(t, StatusApplied, g.Status)
		assert.Equal(t, SubTypeSend, g.GroupType)
		assert.Equal(t, now, g.FirstTimestamp())
	})

	t.Run("failure wins", func(t *testing.T) {
		g := NewTransactionGroup([]TzKTTransaction{
			{ID: 1, Hash: "oo2", Status: StatusApplied},
			{ID: 2, Hash: "oo2", Status: StatusBacktracked, ErrorDescription: "balance too low"},
		})
		assert.Equal(t, StatusBacktracked, g.Status)
		assert.Equal(t, "balance too low", g.ErrorDescription())
	})
}

func TestParseRefreshType(t *testing.T) {
	rt, ok := ParseRefreshType("refreshEverythingIfStale")
	assert.True(t, ok)
	assert.Equal(t, RefreshEverythingIfStale, rt)

	_, ok = ParseRefreshType("sometimes")
	assert.False(t, ok)
}
