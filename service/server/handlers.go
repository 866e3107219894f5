package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/tzwallet/service/activity"
	"github.com/brojonat/tzwallet/service/balance"
	"github.com/brojonat/tzwallet/service/temporal"
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/brojonat/tzwallet/service/wallets"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Tezos addresses are 36 chars, give buffer
	maxBatchLegs       = 100
	minRefreshInterval = 10 * time.Second
	maxRefreshInterval = 24 * time.Hour
	defaultCurrency    = "usd"
)

// accountResponse is the JSON response format for an account snapshot.
type accountResponse struct {
	Account            tezos.Account     `json:"account"`
	EstimatedTotalXTZ  decimal.Decimal   `json:"estimated_total_xtz"`
	EstimatedTotalFiat *decimal.Decimal  `json:"estimated_total_fiat,omitempty"`
	Currency           string            `json:"currency,omitempty"`
	TokenValuesXTZ     map[string]string `json:"token_values_xtz,omitempty"`
	Stale              bool              `json:"stale"`
	Error              string            `json:"error,omitempty"`
}

func buildAccountResponse(accounts *balance.Coordinator, acc tezos.Account, currency string) accountResponse {
	total := accounts.EstimatedTotalXTZ(acc)
	resp := accountResponse{
		Account:           acc,
		EstimatedTotalXTZ: total,
		Stale:             accounts.IsCacheStale(acc.WalletAddress),
	}

	if price := accounts.XTZPrice(); !price.IsZero() {
		if fiat, ok := accounts.ExchangeRates().Convert(total.Mul(price), currency); ok {
			resp.EstimatedTotalFiat = &fiat
			resp.Currency = strings.ToLower(currency)
		}
	}

	for _, token := range acc.Tokens {
		rate := accounts.DexRate(token)
		if rate.IsZero() {
			continue
		}
		if resp.TokenValuesXTZ == nil {
			resp.TokenValuesXTZ = map[string]string{}
		}
		resp.TokenValuesXTZ[token.Key()] = rate.String()
	}
	return resp
}

// handleGetAccount returns a handler that serves the cached snapshot of an account.
// GET /api/v1/accounts/{address}?currency={code}
func handleGetAccount(accounts *balance.Coordinator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		currency := r.URL.Query().Get("currency")
		if currency == "" {
			currency = defaultCurrency
		}

		acc, ok := accounts.Account(address)
		if !ok {
			writeError(w, "account not cached", http.StatusNotFound)
			return
		}

		writeJSON(w, buildAccountResponse(accounts, acc, currency), http.StatusOK)
	})
}

// handleRefreshAccount returns a handler that refreshes an account and serves the result.
// POST /api/v1/accounts/{address}/refresh?type={refreshType}
// A refresh that committed a snapshot but had failing sub-fetches answers 502
// with the snapshot and the error.
func handleRefreshAccount(accounts *balance.Coordinator, registry *wallets.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		refreshType := tezos.RefreshEverythingIfStale
		if raw := r.URL.Query().Get("type"); raw != "" {
			rt, ok := tezos.ParseRefreshType(raw)
			if !ok {
				writeError(w, fmt.Sprintf("invalid refresh type %q", raw), http.StatusBadRequest)
				return
			}
			refreshType = rt
		}

		selected := registry.IsSelected(address)
		refreshErr := accounts.FetchAllBalancesTokensAndPrices(r.Context(), address, selected, refreshType)

		acc, ok := accounts.Account(address)
		if !ok {
			if refreshErr != nil {
				logger.Error("refresh failed", "address", address, "error", refreshErr)
				writeError(w, refreshErr.Error(), http.StatusBadGateway)
				return
			}
			writeError(w, "account not cached", http.StatusNotFound)
			return
		}

		resp := buildAccountResponse(accounts, acc, defaultCurrency)
		status := http.StatusOK
		if refreshErr != nil {
			logger.Warn("refresh completed with errors", "address", address, "error", refreshErr)
			resp.Error = refreshErr.Error()
			status = http.StatusBadGateway
		}
		writeJSON(w, resp, status)
	})
}

// handleDeleteAccountCache returns a handler that purges everything cached for an address.
// DELETE /api/v1/accounts/{address}/cache
func handleDeleteAccountCache(accounts *balance.Coordinator, tracker *activity.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		balanceDeleted := accounts.DeleteAccountCachedData(address)
		activityDeleted := tracker.DeleteCache(address)

		logger.Info("account cache deleted",
			"address", address,
			"balance", balanceDeleted,
			"activity", activityDeleted,
		)
		writeJSON(w, map[string]bool{
			"balance_deleted":  balanceDeleted,
			"activity_deleted": activityDeleted,
		}, http.StatusOK)
	})
}

// handleDeleteAllCache returns a handler that purges every cached account and history.
// DELETE /api/v1/cache
func handleDeleteAllCache(accounts *balance.Coordinator, tracker *activity.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		balanceDeleted := accounts.DeleteAllCachedData()
		activityDeleted := tracker.DeleteAllCache()

		logger.Info("all cached data deleted", "balance", balanceDeleted, "activity", activityDeleted)
		writeJSON(w, map[string]bool{
			"balance_deleted":  balanceDeleted,
			"activity_deleted": activityDeleted,
		}, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists pending and confirmed groups for an address.
// GET /api/v1/accounts/{address}/transactions?refresh=true
func handleListTransactions(tracker *activity.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("refresh") == "true" {
			if _, err := tracker.FetchTransactionGroups(r.Context(), address); err != nil {
				logger.Error("failed to fetch transaction groups", "address", address, "error", err)
				writeError(w, "failed to fetch transaction history", http.StatusBadGateway)
				return
			}
		}

		groups := tracker.TransactionGroups(address)
		pending := len(tracker.PendingGroups(address))

		logger.Debug("transactions listed", "address", address, "count", len(groups), "pending", pending)
		writeJSON(w, map[string]interface{}{
			"groups":  groups,
			"count":   len(groups),
			"pending": pending,
		}, http.StatusOK)
	})
}

// pendingLeg is one operation of a broadcast batch.
type pendingLeg struct {
	Type        tezos.TransactionSubType `json:"type"`
	Destination tezos.Alias              `json:"destination"`
	XTZAmount   string                   `json:"xtz_amount,omitempty"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
	Token       *tezos.Token             `json:"token,omitempty"`
}

// pendingRequest is the JSON request body for recording a broadcast operation.
// A request with legs records a batch; otherwise the top-level leg fields
// describe a single operation.
type pendingRequest struct {
	OpHash  string `json:"op_hash"`
	Counter int64  `json:"counter"`
	pendingLeg
	Legs []pendingLeg `json:"legs,omitempty"`
}

func (l pendingLeg) toBatchInfo() (tezos.PendingBatchInfo, error) {
	if err := validateSubType(l.Type); err != nil {
		return tezos.PendingBatchInfo{}, err
	}
	if err := validateAddress(l.Destination.Address); err != nil {
		return tezos.PendingBatchInfo{}, errorf("invalid destination: %v", err)
	}

	amount := tezos.ZeroAmount(tezos.XTZDecimals)
	if l.XTZAmount != "" {
		v, err := decimal.NewFromString(l.XTZAmount)
		if err != nil {
			return tezos.PendingBatchInfo{}, errorf("invalid xtz_amount %q", l.XTZAmount)
		}
		if v.IsNegative() {
			return tezos.PendingBatchInfo{}, errorf("xtz_amount cannot be negative")
		}
		amount = tezos.XTZ(v)
	}

	return tezos.PendingBatchInfo{
		Type:         l.Type,
		Destination:  l.Destination,
		XTZAmount:    amount,
		Parameters:   l.Parameters,
		PrimaryToken: l.Token,
	}, nil
}

// handleAddPending returns a handler that records a broadcast operation as pending.
// POST /api/v1/accounts/{address}/pending
func handleAddPending(tracker *activity.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req pendingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("invalid request body", "error", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateOpHash(req.OpHash); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Legs) > maxBatchLegs {
			writeError(w, fmt.Sprintf("a batch cannot exceed %d operations", maxBatchLegs), http.StatusBadRequest)
			return
		}

		var persisted bool
		if len(req.Legs) > 0 {
			legs := make([]tezos.PendingBatchInfo, 0, len(req.Legs))
			for i, leg := range req.Legs {
				info, err := leg.toBatchInfo()
				if err != nil {
					writeError(w, fmt.Sprintf("leg %d: %v", i, err), http.StatusBadRequest)
					return
				}
				legs = append(legs, info)
			}
			persisted = tracker.AddPendingBatch(r.Context(), req.OpHash, address, legs)
		} else {
			info, err := req.pendingLeg.toBatchInfo()
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			persisted = tracker.AddPending(r.Context(), activity.PendingParams{
				OpHash:       req.OpHash,
				Type:         info.Type,
				Counter:      req.Counter,
				FromWallet:   address,
				Destination:  info.Destination,
				Amount:       info.XTZAmount,
				Parameters:   info.Parameters,
				PrimaryToken: info.PrimaryToken,
			})
		}

		if !persisted {
			logger.Error("failed to persist pending operation", "address", address, "op_hash", req.OpHash)
			writeError(w, "failed to persist pending operation", http.StatusInternalServerError)
			return
		}

		logger.Info("pending operation recorded", "address", address, "op_hash", req.OpHash, "legs", len(req.Legs))
		writeJSON(w, map[string]interface{}{
			"op_hash": req.OpHash,
			"pending": tracker.PendingGroups(address),
		}, http.StatusCreated)
	})
}

// handleListPending returns a handler that lists addresses with unconfirmed operations.
// GET /api/v1/pending
func handleListPending(tracker *activity.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addresses := tracker.AddressesWithPendingOperation()
		writeJSON(w, map[string]interface{}{
			"addresses": addresses,
			"count":     len(addresses),
		}, http.StatusOK)
	})
}

// walletsResponse is the JSON response format for the wallet registry.
type walletsResponse struct {
	Wallets  []wallets.Wallet `json:"wallets"`
	Selected string           `json:"selected"`
}

// handleListWallets returns a handler that lists tracked wallets.
// GET /api/v1/wallets
func handleListWallets(registry *wallets.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, walletsResponse{
			Wallets:  registry.All(),
			Selected: registry.Selected(),
		}, http.StatusOK)
	})
}

// registerWalletRequest is the JSON request body for tracking a wallet.
type registerWalletRequest struct {
	Address         string `json:"address"`
	Label           string `json:"label,omitempty"`
	RefreshInterval string `json:"refresh_interval,omitempty"`
}

// handleRegisterWallet returns a handler that tracks a wallet and schedules
// its background refresh.
// POST /api/v1/wallets
func handleRegisterWallet(registry *wallets.Registry, scheduler temporal.Scheduler, defaultInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req registerWalletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("invalid request body", "error", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		interval := defaultInterval
		if req.RefreshInterval != "" {
			d, err := time.ParseDuration(req.RefreshInterval)
			if err != nil {
				writeError(w, "invalid refresh_interval format", http.StatusBadRequest)
				return
			}
			interval = d
		}
		if err := validateRefreshInterval(interval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		existed := registry.Contains(req.Address)
		if err := registry.Add(wallets.Wallet{Address: req.Address, Label: req.Label}); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if scheduler != nil {
			if err := scheduler.UpsertWalletSchedule(r.Context(), req.Address, interval); err != nil {
				logger.Error("failed to create schedule", "address", req.Address, "error", err)
				// Rollback a wallet this request added.
				if !existed {
					registry.Remove(req.Address)
				}
				writeError(w, "failed to create refresh schedule", http.StatusInternalServerError)
				return
			}
		}

		logger.Info("wallet registered", "address", req.Address, "refresh_interval", interval)
		status := http.StatusCreated
		if existed {
			status = http.StatusOK
		}
		writeJSON(w, map[string]interface{}{
			"address":          req.Address,
			"label":            req.Label,
			"refresh_interval": interval.String(),
			"selected":         registry.IsSelected(req.Address),
		}, status)
	})
}

// handleUnregisterWallet returns a handler that stops tracking a wallet.
// DELETE /api/v1/wallets/{address}?purge=true
func handleUnregisterWallet(registry *wallets.Registry, scheduler temporal.Scheduler, accounts *balance.Coordinator, tracker *activity.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if !registry.Contains(address) {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		// Delete the schedule before untracking the wallet.
		if scheduler != nil {
			if err := scheduler.DeleteWalletSchedule(r.Context(), address); err != nil {
				logger.Error("failed to delete schedule", "address", address, "error", err)
				writeError(w, "failed to delete refresh schedule", http.StatusInternalServerError)
				return
			}
		}

		registry.Remove(address)
		if r.URL.Query().Get("purge") == "true" {
			accounts.DeleteAccountCachedData(address)
			tracker.DeleteCache(address)
		}

		if next := registry.Selected(); next != "" {
			accounts.LoadCache(next)
			tracker.LoadCache(next)
		}

		logger.Info("wallet unregistered", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleSelectWallet returns a handler that changes the selected wallet and
// loads its cached state.
// POST /api/v1/wallets/select
func handleSelectWallet(registry *wallets.Registry, accounts *balance.Coordinator, tracker *activity.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Address string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := registry.Select(req.Address); err != nil {
			if errors.Is(err, wallets.ErrUnknownWallet) {
				writeError(w, "wallet not found", http.StatusNotFound)
				return
			}
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		accounts.LoadCache(req.Address)
		tracker.LoadCache(req.Address)

		logger.Info("wallet selected", "address", req.Address)
		writeJSON(w, map[string]string{"selected": req.Address}, http.StatusOK)
	})
}

// preferenceRequest is the JSON request body for a token preference change.
// Omitted fields are left unchanged.
type preferenceRequest struct {
	Hidden    *bool `json:"hidden,omitempty"`
	Favourite *bool `json:"favourite,omitempty"`
}

// handleSetPreference returns a handler that hides or favourites a token.
// PUT /api/v1/preferences/{key}
func handleSetPreference(accounts *balance.Coordinator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		contract, _, found := strings.Cut(key, ":")
		if !found || validateAddress(contract) != nil {
			writeError(w, "token key must be contract:tokenId", http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req preferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Hidden == nil && req.Favourite == nil {
			writeError(w, "hidden or favourite is required", http.StatusBadRequest)
			return
		}

		ok := true
		if req.Hidden != nil {
			ok = accounts.SetTokenHidden(key, *req.Hidden) && ok
		}
		if req.Favourite != nil {
			ok = accounts.SetTokenFavourite(key, *req.Favourite) && ok
		}
		if !ok {
			logger.Error("failed to persist token preferences", "key", key)
			writeError(w, "failed to persist token preferences", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet or contract address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if err := tezos.ValidateAddress(address); err != nil {
		return errorf("invalid address format: %v", err)
	}

	return nil
}

// validateOpHash checks an operation hash looks like a base58 "o..." hash.
func validateOpHash(hash string) error {
	if hash == "" {
		return errorf("op_hash is required")
	}
	if len(hash) != 51 || hash[0] != 'o' {
		return errorf("invalid op_hash: expected a 51 character operation hash")
	}
	return nil
}

// validateSubType validates the kind of a broadcast operation.
func validateSubType(t tezos.TransactionSubType) error {
	switch t {
	case tezos.SubTypeSend, tezos.SubTypeDelegate, tezos.SubTypeContractCall, tezos.SubTypeExchange:
		return nil
	case "":
		return errorf("type is required")
	default:
		return errorf("invalid type %q: must be send, delegate, contractCall or exchange", t)
	}
}

// validateRefreshInterval validates a refresh interval for reasonable bounds.
func validateRefreshInterval(interval time.Duration) error {
	if interval <= 0 {
		return errorf("refresh_interval must be positive")
	}

	if interval < minRefreshInterval {
		return errorf("refresh_interval must be at least %v", minRefreshInterval)
	}

	if interval > maxRefreshInterval {
		return errorf("refresh_interval cannot exceed %v", maxRefreshInterval)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
