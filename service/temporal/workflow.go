package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/tzwallet/service/tezos"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshWalletWorkflow refreshes one wallet. It is triggered by a Temporal
// schedule at the configured refresh interval.
//
// The workflow performs these steps:
// 1. Refresh confirmed history and reconcile pending operations (FetchTransactionGroups)
// 2. Refresh balances, tokens and prices (RefreshAccount)
//
// A history failure does not prevent the account refresh; the workflow fails
// after both steps ran if either of them failed.
func RefreshWalletWorkflow(ctx workflow.Context, input RefreshWalletInput) (*RefreshWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshWalletWorkflow started", "address", input.Address)

	result := &RefreshWalletResult{
		Address:     input.Address,
		RefreshTime: workflow.Now(ctx),
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var errs []error

	var history *FetchTransactionGroupsResult
	err := workflow.ExecuteActivity(ctx, a.FetchTransactionGroups, FetchTransactionGroupsInput{
		Address: input.Address,
	}).Get(ctx, &history)
	if err != nil {
		logger.Warn("failed to fetch transaction groups", "address", input.Address, "error", err)
		errs = append(errs, fmt.Errorf("failed to fetch transaction groups: %w", err))
	} else if history != nil {
		result.TransactionGroups = history.Groups
		result.PendingGroups = history.Pending
	}

	refreshType := input.RefreshType
	if refreshType == "" {
		refreshType = tezos.RefreshAccountOnly
	}

	var account *RefreshAccountResult
	err = workflow.ExecuteActivity(ctx, a.RefreshAccount, RefreshAccountInput{
		Address:     input.Address,
		RefreshType: refreshType,
	}).Get(ctx, &account)
	if err != nil {
		logger.Error("failed to refresh account", "address", input.Address, "error", err)
		errs = append(errs, fmt.Errorf("failed to refresh account: %w", err))
	} else if account != nil {
		result.Tokens = account.Tokens
		result.Collections = account.Collections
		result.EstimatedTotalXTZ = account.EstimatedTotalXTZ
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		errMsg := err.Error()
		result.Error = &errMsg
		return result, err
	}

	logger.Info("RefreshWalletWorkflow completed successfully",
		"address", input.Address,
		"transaction_groups", result.TransactionGroups,
		"pending_groups", result.PendingGroups,
		"tokens", result.Tokens,
	)
	return result, nil
}
