package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tzwallet/service/metrics"
	natspkg "github.com/brojonat/tzwallet/service/nats"
	"github.com/brojonat/tzwallet/service/tezos"
)

// ErrOperationFailed is wrapped by every OperationError.
var ErrOperationFailed = errors.New("operation failed on chain")

// OperationError describes a pending operation that was confirmed with a
// failing status.
type OperationError struct {
	Address     string
	OpHash      string
	GroupID     int64
	Status      tezos.TransactionStatus
	Description string
}

func (e *OperationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("operation %s %s: %s", e.OpHash, e.Status, e.Description)
	}
	return fmt.Sprintf("operation %s %s: the operation was not applied", e.OpHash, e.Status)
}

func (e *OperationError) Unwrap() error {
	return ErrOperationFailed
}

// ErrorNotifier receives operations that failed after being broadcast.
type ErrorNotifier interface {
	NotifyOperationFailed(ctx context.Context, err *OperationError)
}

// EventNotifier logs failed operations and publishes them as pending events.
type EventNotifier struct {
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEventNotifier returns a notifier. A nil publisher only logs.
func NewEventNotifier(publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *EventNotifier {
	return &EventNotifier{publisher: publisher, metrics: m, logger: logger}
}

func (n *EventNotifier) NotifyOperationFailed(ctx context.Context, opErr *OperationError) {
	n.logger.ErrorContext(ctx, "pending operation failed",
		"address", opErr.Address,
		"op_hash", opErr.OpHash,
		"status", opErr.Status,
		"error", opErr,
	)

	if n.publisher == nil {
		return
	}
	err := n.publisher.PublishPending(ctx, &natspkg.PendingEvent{
		Kind:          natspkg.PendingFailed,
		WalletAddress: opErr.Address,
		OpHash:        opErr.OpHash,
		GroupID:       opErr.GroupID,
		Error:         opErr.Error(),
		PublishedAt:   time.Now(),
	})
	n.metrics.RecordNATSPublish(string(natspkg.PendingFailed), err)
	if err != nil {
		// Publishing is best-effort; the failure is already logged above.
		n.logger.WarnContext(ctx, "failed to publish failed-operation event",
			"address", opErr.Address,
			"op_hash", opErr.OpHash,
			"error", err,
		)
	}
}
