package nats

import (
	"fmt"
	"time"
)

// PendingEventKind describes what happened to a pending operation.
type PendingEventKind string

const (
	PendingAdded     PendingEventKind = "added"
	PendingConfirmed PendingEventKind = "confirmed"
	PendingFailed    PendingEventKind = "failed"
	PendingExpired   PendingEventKind = "expired"
)

// PendingEvent is published to "wallet.pending.{wallet_address}" whenever a
// pending operation is recorded or retired.
type PendingEvent struct {
	Kind          PendingEventKind `json:"kind"`
	WalletAddress string           `json:"wallet_address"`
	OpHash        string           `json:"op_hash"`
	GroupID       int64            `json:"group_id"`
	Error         string           `json:"error,omitempty"`

	// Remaining is the number of pending groups left for the wallet.
	Remaining int `json:"remaining"`

	PublishedAt time.Time `json:"published_at"`
}

// AccountEvent is published to "wallet.account.{wallet_address}" after a
// refresh commits a new account snapshot.
type AccountEvent struct {
	WalletAddress     string    `json:"wallet_address"`
	RefreshType       string    `json:"refresh_type"`
	XTZBalance        string    `json:"xtz_balance"`
	EstimatedTotalXTZ string    `json:"estimated_total_xtz"`
	TokenCount        int       `json:"token_count"`
	NFTCount          int       `json:"nft_count"`
	Error             string    `json:"error,omitempty"`
	PublishedAt       time.Time `json:"published_at"`
}

// PendingSubject is the subject pending events for address are published on.
func PendingSubject(address string) string {
	return fmt.Sprintf("wallet.pending.%s", address)
}

// AccountSubject is the subject account events for address are published on.
func AccountSubject(address string) string {
	return fmt.Sprintf("wallet.account.%s", address)
}

// WalletSubjects matches every event for address.
func WalletSubjects(address string) string {
	return fmt.Sprintf("wallet.*.%s", address)
}
