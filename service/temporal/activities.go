package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tzwallet/service/metrics"
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/shopspring/decimal"
)

// RefreshWalletInput contains the input parameters for refreshing a wallet.
type RefreshWalletInput struct {
	Address string `json:"address"`
	// RefreshType defaults to refreshAccountOnly.
	RefreshType tezos.RefreshType `json:"refresh_type,omitempty"`
}

// RefreshWalletResult contains the result of refreshing a wallet.
type RefreshWalletResult struct {
	Address           string    `json:"address"`
	TransactionGroups int       `json:"transaction_groups"`
	PendingGroups     int       `json:"pending_groups"`
	Tokens            int       `json:"tokens"`
	Collections       int       `json:"collections"`
	EstimatedTotalXTZ string    `json:"estimated_total_xtz,omitempty"`
	RefreshTime       time.Time `json:"refresh_time"`
	Error             *string   `json:"error,omitempty"`
}

// FetchTransactionGroupsInput contains parameters for the FetchTransactionGroups activity.
type FetchTransactionGroupsInput struct {
	Address string `json:"address"`
}

// FetchTransactionGroupsResult contains the result of the FetchTransactionGroups activity.
type FetchTransactionGroupsResult struct {
	Groups  int `json:"groups"`
	Pending int `json:"pending"`
}

// RefreshAccountInput contains parameters for the RefreshAccount activity.
type RefreshAccountInput struct {
	Address     string            `json:"address"`
	RefreshType tezos.RefreshType `json:"refresh_type"`
}

// RefreshAccountResult contains the result of the RefreshAccount activity.
type RefreshAccountResult struct {
	Tokens            int    `json:"tokens"`
	Collections       int    `json:"collections"`
	EstimatedTotalXTZ string `json:"estimated_total_xtz"`
}

// HistoryRefresher reconciles an address's pending operations against its
// confirmed history. This allows for easy mocking in tests.
type HistoryRefresher interface {
	FetchTransactionGroups(ctx context.Context, address string) ([]tezos.TzKTTransactionGroup, error)
	PendingGroups(address string) []tezos.TzKTTransactionGroup
}

// AccountRefresher refreshes and exposes account snapshots.
type AccountRefresher interface {
	FetchAllBalancesTokensAndPrices(ctx context.Context, address string, isSelected bool, refreshType tezos.RefreshType) error
	Account(address string) (tezos.Account, bool)
	EstimatedTotalXTZ(acc tezos.Account) decimal.Decimal
}

// Selection reports whether an address is the selected wallet.
type Selection interface {
	IsSelected(address string) bool
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	history   HistoryRefresher
	accounts  AccountRefresher
	selection Selection
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. A nil selection treats
// every wallet as unselected.
func NewActivities(
	history HistoryRefresher,
	accounts AccountRefresher,
	selection Selection,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		history:   history,
		accounts:  accounts,
		selection: selection,
		metrics:   m,
		logger:    logger,
	}
}

// FetchTransactionGroups refreshes the confirmed history of a wallet and
// reconciles its pending operations.
func (a *Activities) FetchTransactionGroups(ctx context.Context, input FetchTransactionGroupsInput) (result *FetchTransactionGroupsResult, err error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("FetchTransactionGroups", err, metrics.Since(start))
	}()

	a.logger.DebugContext(ctx, "fetching transaction groups", "address", input.Address)

	groups, err := a.history.FetchTransactionGroups(ctx, input.Address)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch transaction groups",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch transaction groups: %w", err)
	}

	result = &FetchTransactionGroupsResult{
		Groups:  len(groups),
		Pending: len(a.history.PendingGroups(input.Address)),
	}

	a.logger.InfoContext(ctx, "fetched transaction groups",
		"address", input.Address,
		"groups", result.Groups,
		"pending", result.Pending,
	)
	return result, nil
}

// RefreshAccount refreshes a wallet's balances, tokens and prices.
func (a *Activities) RefreshAccount(ctx context.Context, input RefreshAccountInput) (result *RefreshAccountResult, err error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("RefreshAccount", err, metrics.Since(start))
	}()

	refreshType := input.RefreshType
	if refreshType == "" {
		refreshType = tezos.RefreshAccountOnly
	}
	selected := a.selection != nil && a.selection.IsSelected(input.Address)

	a.logger.DebugContext(ctx, "refreshing account",
		"address", input.Address,
		"refresh_type", refreshType,
		"selected", selected,
	)

	if err = a.accounts.FetchAllBalancesTokensAndPrices(ctx, input.Address, selected, refreshType); err != nil {
		a.logger.ErrorContext(ctx, "failed to refresh account",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to refresh account: %w", err)
	}

	result = &RefreshAccountResult{}
	if acc, ok := a.accounts.Account(input.Address); ok {
		result.Tokens = len(acc.Tokens)
		result.Collections = len(acc.NFTs)
		result.EstimatedTotalXTZ = a.accounts.EstimatedTotalXTZ(acc).String()
	}

	a.logger.InfoContext(ctx, "refreshed account",
		"address", input.Address,
		"tokens", result.Tokens,
		"collections", result.Collections,
		"estimated_total_xtz", result.EstimatedTotalXTZ,
	)
	return result, nil
}
