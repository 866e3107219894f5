package temporal

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock history refresher
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) FetchTransactionGroups(ctx context.Context, address string) ([]tezos.TzKTTransactionGroup, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tezos.TzKTTransactionGroup), args.Error(1)
}

func (m *MockHistory) PendingGroups(address string) []tezos.TzKTTransactionGroup {
	args := m.Called(address)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]tezos.TzKTTransactionGroup)
}

// Mock account refresher
type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) FetchAllBalancesTokensAndPrices(ctx context.Context, address string, isSelected bool, refreshType tezos.RefreshType) error {
	args := m.Called(ctx, address, isSelected, refreshType)
	return args.Error(0)
}

func (m *MockAccounts) Account(address string) (tezos.Account, bool) {
	args := m.Called(address)
	return args.Get(0).(tezos.Account), args.Bool(1)
}

func (m *MockAccounts) EstimatedTotalXTZ(acc tezos.Account) decimal.Decimal {
	args := m.Called(acc)
	return args.Get(0).(decimal.Decimal)
}

type staticSelection string

func (s staticSelection) IsSelected(address string) bool {
	return string(s) == address
}

func TestActivities_FetchTransactionGroups(t *testing.T) {
	ctx := context.Background()

	t.Run("reports groups and pending", func(t *testing.T) {
		history := new(MockHistory)
		history.On("FetchTransactionGroups", mock.Anything, testWallet).
			Return([]tezos.TzKTTransactionGroup{{ID: 1}, {ID: 2}, {ID: 3}}, nil)
		history.On("PendingGroups", testWallet).
			Return([]tezos.TzKTTransactionGroup{{ID: 4}})

		acts := NewActivities(history, nil, nil, nil, slog.Default())
		result, err := acts.FetchTransactionGroups(ctx, FetchTransactionGroupsInput{Address: testWallet})

		require.NoError(t, err)
		assert.Equal(t, 3, result.Groups)
		assert.Equal(t, 1, result.Pending)
		history.AssertExpectations(t)
	})

	t.Run("explorer error", func(t *testing.T) {
		history := new(MockHistory)
		history.On("FetchTransactionGroups", mock.Anything, testWallet).
			Return(nil, errors.New("tzkt unavailable"))

		acts := NewActivities(history, nil, nil, nil, slog.Default())
		result, err := acts.FetchTransactionGroups(ctx, FetchTransactionGroupsInput{Address: testWallet})

		require.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "tzkt unavailable")
		history.AssertNotCalled(t, "PendingGroups", mock.Anything)
	})
}

func TestActivities_RefreshAccount(t *testing.T) {
	ctx := context.Background()
	acc := tezos.Account{
		WalletAddress: testWallet,
		Tokens:        []tezos.Token{{}, {}},
		NFTs:          []tezos.Token{{}},
	}

	t.Run("selected wallet with default refresh type", func(t *testing.T) {
		accounts := new(MockAccounts)
		accounts.On("FetchAllBalancesTokensAndPrices", mock.Anything, testWallet, true, tezos.RefreshAccountOnly).
			Return(nil)
		accounts.On("Account", testWallet).Return(acc, true)
		accounts.On("EstimatedTotalXTZ", acc).Return(decimal.RequireFromString("12.5"))

		acts := NewActivities(nil, accounts, staticSelection(testWallet), nil, slog.Default())
		result, err := acts.RefreshAccount(ctx, RefreshAccountInput{Address: testWallet})

		require.NoError(t, err)
		assert.Equal(t, 2, result.Tokens)
		assert.Equal(t, 1, result.Collections)
		assert.Equal(t, "12.5", result.EstimatedTotalXTZ)
		accounts.AssertExpectations(t)
	})

	t.Run("unselected wallet", func(t *testing.T) {
		accounts := new(MockAccounts)
		accounts.On("FetchAllBalancesTokensAndPrices", mock.Anything, testWallet, false, tezos.RefreshAccountOnly).
			Return(nil)
		accounts.On("Account", testWallet).Return(tezos.Account{}, false)

		acts := NewActivities(nil, accounts, nil, nil, slog.Default())
		result, err := acts.RefreshAccount(ctx, RefreshAccountInput{
			Address:     testWallet,
			RefreshType: tezos.RefreshAccountOnly,
		})

		require.NoError(t, err)
		assert.Zero(t, result.Tokens)
		assert.Empty(t, result.EstimatedTotalXTZ)
		accounts.AssertExpectations(t)
	})

	t.Run("refresh error", func(t *testing.T) {
		accounts := new(MockAccounts)
		accounts.On("FetchAllBalancesTokensAndPrices", mock.Anything, testWallet, false, tezos.RefreshEverything).
			Return(errors.New("balances: timeout"))

		acts := NewActivities(nil, accounts, nil, nil, slog.Default())
		result, err := acts.RefreshAccount(ctx, RefreshAccountInput{
			Address:     testWallet,
			RefreshType: tezos.RefreshEverything,
		})

		require.Error(t, err)
		assert.Nil(t, result)
		accounts.AssertNotCalled(t, "Account", mock.Anything)
	})
}
