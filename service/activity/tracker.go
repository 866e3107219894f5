// Package activity tracks operations a wallet has broadcast but not yet seen
// confirmed, and reconciles them against confirmed explorer history.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/tzwallet/service/diskcache"
	"github.com/brojonat/tzwallet/service/metrics"
	natspkg "github.com/brojonat/tzwallet/service/nats"
	"github.com/brojonat/tzwallet/service/tezos"
)

const (
	// DefaultPendingExpiry is how long an unmatched pending operation is kept.
	DefaultPendingExpiry = 2 * time.Hour
	// DefaultHistoryLimit is the number of operations fetched per refresh.
	DefaultHistoryLimit = 50
)

// Reconcile outcomes, used as metric labels.
const (
	outcomeConfirmed = "confirmed"
	outcomeFailed    = "failed"
	outcomeExpired   = "expired"
)

// Explorer fetches raw history and groups it into logical operations.
type Explorer interface {
	FetchTransactions(ctx context.Context, address string, limit int) ([]tezos.TzKTTransaction, error)
	GroupTransactions(txs []tezos.TzKTTransaction, currentAddress string) []tezos.TzKTTransactionGroup
}

// Selection reports whether an address is the wallet currently in focus.
type Selection interface {
	IsSelected(address string) bool
}

// Config holds a Tracker's collaborators. Store and Explorer are required.
type Config struct {
	Store     diskcache.Store
	Explorer  Explorer
	Selection Selection
	Publisher natspkg.Publisher
	Notifier  ErrorNotifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	PendingExpiry time.Duration
	HistoryLimit  int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// PendingParams describes a single broadcast operation.
type PendingParams struct {
	OpHash       string
	Type         tezos.TransactionSubType
	Counter      int64
	FromWallet   string
	Destination  tezos.Alias
	Amount       tezos.TokenAmount
	Parameters   map[string]string
	PrimaryToken *tezos.Token
}

// view is the last state of the selected wallet read from the store.
type view struct {
	key       string
	pending   []tezos.TzKTTransactionGroup
	confirmed []tezos.TzKTTransactionGroup
}

// Tracker records pending operations per address. The store is the source of
// truth: every call re-reads it under mu, so a server and a worker sharing
// one store build on each other's writes. The selected wallet's last
// read is cached in view.
type Tracker struct {
	store     diskcache.Store
	explorer  Explorer
	selection Selection
	publisher natspkg.Publisher
	notifier  ErrorNotifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	expiry    time.Duration
	limit     int
	now       func() time.Time

	mu               sync.Mutex
	view             view
	pendingAddresses []string
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PendingExpiry <= 0 {
		cfg.PendingExpiry = DefaultPendingExpiry
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewEventNotifier(cfg.Publisher, cfg.Metrics, cfg.Logger)
	}
	return &Tracker{
		store:     cfg.Store,
		explorer:  cfg.Explorer,
		selection: cfg.Selection,
		publisher: cfg.Publisher,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		expiry:    cfg.PendingExpiry,
		limit:     cfg.HistoryLimit,
		now:       cfg.Now,
	}
}

func (t *Tracker) isSelected(address string) bool {
	return t.selection != nil && t.selection.IsSelected(address)
}

func (t *Tracker) readView(address string) view {
	v := view{key: diskcache.NormalizedKey(address)}
	t.store.Read(diskcache.ActivityPendingFile(address), &v.pending)
	t.store.Read(diskcache.ActivityFile(address), &v.confirmed)
	return v
}

// load reads address's lists from the store and refreshes the cached view
// when address is the selected wallet. The store may be shared with another
// process, so every mutation starts from here. Callers hold t.mu.
func (t *Tracker) load(address string) view {
	v := t.readView(address)
	t.remember(address, v)
	return v
}

// remember caches v when address is the selected wallet. Callers hold t.mu.
func (t *Tracker) remember(address string, v view) {
	if t.isSelected(address) {
		t.view = v
	}
}

// LoadCache loads address's pending and confirmed lists from the store into
// memory. A missing cache yields empty lists.
func (t *Tracker) LoadCache(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.view = t.readView(address)
	if len(t.view.pending) > 0 {
		t.addPendingAddressLocked(address)
	}
	t.logger.Debug("loaded activity cache",
		"address", address,
		"pending", len(t.view.pending),
		"confirmed", len(t.view.confirmed),
	)
}

// AddPending records a broadcast operation as unconfirmed. It returns whether
// the pending list was persisted.
func (t *Tracker) AddPending(ctx context.Context, p PendingParams) bool {
	tx := t.placeholder(p.OpHash, p.Counter, p.FromWallet, tezos.PendingBatchInfo{
		Type:         p.Type,
		Destination:  p.Destination,
		XTZAmount:    p.Amount,
		Parameters:   p.Parameters,
		PrimaryToken: p.PrimaryToken,
	})
	return t.addGroup(ctx, p.FromWallet, "single", []tezos.TzKTTransaction{tx})
}

// AddPendingBatch records a batch of legs sharing one operation hash as a
// single unconfirmed group. Leg ids are assigned sequentially.
func (t *Tracker) AddPendingBatch(ctx context.Context, opHash, fromWallet string, legs []tezos.PendingBatchInfo) bool {
	if len(legs) == 0 {
		return false
	}
	txs := make([]tezos.TzKTTransaction, 0, len(legs))
	for i, leg := range legs {
		txs = append(txs, t.placeholder(opHash, int64(i), fromWallet, leg))
	}
	return t.addGroup(ctx, fromWallet, "batch", txs)
}

func (t *Tracker) placeholder(opHash string, counter int64, fromWallet string, leg tezos.PendingBatchInfo) tezos.TzKTTransaction {
	dest := leg.Destination
	tx := tezos.TzKTTransaction{
		Type:         tezos.OperationTransaction,
		SubType:      leg.Type,
		Status:       tezos.StatusUnconfirmed,
		Hash:         opHash,
		Counter:      counter,
		Timestamp:    t.now().UTC(),
		Sender:       tezos.Alias{Address: fromWallet},
		Target:       &dest,
		Amount:       leg.XTZAmount,
		Parameter:    leg.Parameters,
		PrimaryToken: leg.PrimaryToken,
	}
	if tx.Amount.Raw.IsZero() && tx.Amount.Decimals == 0 {
		tx.Amount = tezos.ZeroAmount(tezos.XTZDecimals)
	}
	if leg.Type == tezos.SubTypeDelegate {
		tx.Type = tezos.OperationDelegation
		tx.Target = nil
		tx.NewDelegate = &dest
	}
	return tx
}

// addGroup assigns ids above every known id for the wallet, prepends the
// group and persists the pending list.
func (t *Tracker) addGroup(ctx context.Context, address, kind string, txs []tezos.TzKTTransaction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := t.load(address)
	base := max(maxID(v.pending), maxID(v.confirmed))
	for i := range txs {
		txs[i].ID = base + int64(i) + 1
	}
	group := tezos.NewTransactionGroup(txs)

	updated := make([]tezos.TzKTTransactionGroup, 0, len(v.pending)+1)
	updated = append(updated, group)
	updated = append(updated, v.pending...)

	ok := t.store.Write(diskcache.ActivityPendingFile(address), updated)
	t.metrics.RecordCacheWrite(diskcache.ActivityPendingPrefix, ok)
	t.metrics.RecordPendingAdded(kind, ok, len(txs))
	if !ok {
		t.logger.ErrorContext(ctx, "failed to persist pending operation",
			"address", address,
			"op_hash", group.Hash,
		)
		return false
	}
	v.pending = updated
	t.remember(address, v)

	t.addPendingAddressLocked(address)
	t.publish(ctx, natspkg.PendingAdded, address, group, len(updated))
	t.logger.InfoContext(ctx, "recorded pending operation",
		"address", address,
		"op_hash", group.Hash,
		"id", group.ID,
		"legs", len(txs),
	)
	return true
}

func maxID(groups []tezos.TzKTTransactionGroup) int64 {
	var id int64
	for _, g := range groups {
		id = max(id, g.MaxID())
	}
	return id
}

// CheckAndUpdatePendingTransactions retires pending groups for address that
// have expired or appear in confirmed. A confirmed group with a failing
// status is reported to the notifier. Once a group is removed it is never
// reconsidered, so repeated calls with the same confirmed set are no-ops.
func (t *Tracker) CheckAndUpdatePendingTransactions(ctx context.Context, address string, confirmed []tezos.TzKTTransactionGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := t.load(address)
	pending := v.pending
	if len(pending) == 0 {
		t.updatePendingQueueLocked(address, 0)
		return
	}

	byHash := make(map[string]tezos.TzKTTransactionGroup, len(confirmed))
	for _, g := range confirmed {
		byHash[g.Hash] = g
	}

	now := t.now()
	type retired struct {
		group   tezos.TzKTTransactionGroup
		outcome string
		err     *OperationError
	}
	var (
		kept    = make([]tezos.TzKTTransactionGroup, 0, len(pending))
		removed []retired
	)
	for _, p := range pending {
		if now.Sub(p.FirstTimestamp()) > t.expiry {
			removed = append(removed, retired{group: p, outcome: outcomeExpired})
			continue
		}
		match, ok := byHash[p.Hash]
		if !ok {
			kept = append(kept, p)
			continue
		}
		if match.Status.IsFailure() {
			removed = append(removed, retired{
				group:   p,
				outcome: outcomeFailed,
				err: &OperationError{
					Address:     address,
					OpHash:      p.Hash,
					GroupID:     match.ID,
					Status:      match.Status,
					Description: match.ErrorDescription(),
				},
			})
			continue
		}
		removed = append(removed, retired{group: p, outcome: outcomeConfirmed})
	}

	if len(removed) == 0 {
		return
	}

	ok := t.store.Write(diskcache.ActivityPendingFile(address), kept)
	t.metrics.RecordCacheWrite(diskcache.ActivityPendingPrefix, ok)
	if !ok {
		// The groups are still persisted, so the next pass retires them.
		t.logger.WarnContext(ctx, "failed to persist reconciled pending list", "address", address)
		return
	}
	v.pending = kept
	t.remember(address, v)

	for _, r := range removed {
		t.metrics.RecordPendingReconciled(r.outcome)
		switch r.outcome {
		case outcomeFailed:
			t.notifier.NotifyOperationFailed(ctx, r.err)
		case outcomeExpired:
			t.logger.InfoContext(ctx, "pending operation expired",
				"address", address,
				"op_hash", r.group.Hash,
				"created_at", r.group.FirstTimestamp(),
			)
			t.publish(ctx, natspkg.PendingExpired, address, r.group, len(kept))
		default:
			t.logger.InfoContext(ctx, "pending operation confirmed",
				"address", address,
				"op_hash", r.group.Hash,
			)
			t.publish(ctx, natspkg.PendingConfirmed, address, r.group, len(kept))
		}
	}

	t.updatePendingQueueLocked(address, len(kept))
}

// FetchTransactionGroups fetches and groups confirmed history for address,
// reconciles pending operations against it and persists the confirmed list.
func (t *Tracker) FetchTransactionGroups(ctx context.Context, address string) ([]tezos.TzKTTransactionGroup, error) {
	txs, err := t.explorer.FetchTransactions(ctx, address, t.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for %s: %w", address, err)
	}
	groups := t.explorer.GroupTransactions(txs, address)

	t.CheckAndUpdatePendingTransactions(ctx, address, groups)

	t.mu.Lock()
	defer t.mu.Unlock()

	ok := t.store.Write(diskcache.ActivityFile(address), groups)
	t.metrics.RecordCacheWrite(diskcache.ActivityPrefix, ok)
	if !ok {
		t.logger.WarnContext(ctx, "failed to persist transaction history", "address", address)
	}
	t.load(address)

	t.logger.DebugContext(ctx, "fetched transaction groups",
		"address", address,
		"transactions", len(txs),
		"groups", len(groups),
	)
	return slices.Clone(groups), nil
}

// PendingGroups returns address's pending groups, newest first.
func (t *Tracker) PendingGroups(address string) []tezos.TzKTTransactionGroup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.load(address).pending)
}

// TransactionGroups returns pending groups followed by confirmed history.
func (t *Tracker) TransactionGroups(address string) []tezos.TzKTTransactionGroup {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.load(address)
	out := make([]tezos.TzKTTransactionGroup, 0, len(v.pending)+len(v.confirmed))
	out = append(out, v.pending...)
	return append(out, v.confirmed...)
}

// AddUniqueAddressToPendingOperation marks address as having a pending operation.
func (t *Tracker) AddUniqueAddressToPendingOperation(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addPendingAddressLocked(address)
}

func (t *Tracker) addPendingAddressLocked(address string) {
	key := diskcache.NormalizedKey(address)
	if slices.ContainsFunc(t.pendingAddresses, func(a string) bool { return diskcache.NormalizedKey(a) == key }) {
		return
	}
	t.pendingAddresses = append(t.pendingAddresses, address)
	t.metrics.SetPendingAddresses(len(t.pendingAddresses))
}

// UpdatePendingQueue removes address from the pending set if it no longer
// has pending operations.
func (t *Tracker) UpdatePendingQueue(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updatePendingQueueLocked(address, len(t.load(address).pending))
}

func (t *Tracker) updatePendingQueueLocked(address string, remaining int) {
	if remaining > 0 {
		t.addPendingAddressLocked(address)
		return
	}
	key := diskcache.NormalizedKey(address)
	t.pendingAddresses = slices.DeleteFunc(t.pendingAddresses, func(a string) bool {
		return diskcache.NormalizedKey(a) == key
	})
	t.metrics.SetPendingAddresses(len(t.pendingAddresses))
}

// AddressesWithPendingOperation returns the addresses with at least one
// pending operation, in the order they were first recorded.
func (t *Tracker) AddressesWithPendingOperation() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.pendingAddresses)
}

// DeleteCache removes address's cached history and pending list.
func (t *Tracker) DeleteCache(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok := t.store.Delete(diskcache.ActivityFile(address))
	ok = t.store.Delete(diskcache.ActivityPendingFile(address)) && ok
	if t.view.key == diskcache.NormalizedKey(address) {
		t.view = view{}
	}
	t.updatePendingQueueLocked(address, 0)
	return ok
}

// DeleteAllCache removes every cached history and pending list.
func (t *Tracker) DeleteAllCache() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.view = view{}
	t.pendingAddresses = nil
	t.metrics.SetPendingAddresses(0)
	return diskcache.DeleteAll(t.store, diskcache.ActivityPrefix)
}

func (t *Tracker) publish(ctx context.Context, kind natspkg.PendingEventKind, address string, g tezos.TzKTTransactionGroup, remaining int) {
	if t.publisher == nil {
		return
	}
	err := t.publisher.PublishPending(ctx, &natspkg.PendingEvent{
		Kind:          kind,
		WalletAddress: address,
		OpHash:        g.Hash,
		GroupID:       g.ID,
		Remaining:     remaining,
		PublishedAt:   t.now(),
	})
	t.metrics.RecordNATSPublish(string(kind), err)
	if err != nil {
		t.logger.WarnContext(ctx, "failed to publish pending event",
			"address", address,
			"kind", kind,
			"error", err,
		)
	}
}
