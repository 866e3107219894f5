package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for wallet refreshes.
// Each tracked wallet gets its own schedule that triggers the RefreshWalletWorkflow.
type Scheduler interface {
	// CreateWalletSchedule creates a new schedule for refreshing a wallet.
	// The schedule will trigger the RefreshWalletWorkflow on the given interval.
	CreateWalletSchedule(ctx context.Context, address string, interval time.Duration) error

	// UpsertWalletSchedule creates the schedule or updates its interval.
	UpsertWalletSchedule(ctx context.Context, address string, interval time.Duration) error

	// DeleteWalletSchedule deletes the schedule for a wallet.
	// This stops the wallet from being refreshed in the background.
	DeleteWalletSchedule(ctx context.Context, address string) error
}

// scheduleID returns the Temporal schedule ID for a wallet address.
func scheduleID(address string) string {
	return "refresh-wallet-" + address
}
