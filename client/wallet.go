// Package client is the Go HTTP client for the tzwallet API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/brojonat/tzwallet/service/tezos"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrOperationFailed is returned by Await when the operation was
	// confirmed with a failing status.
	ErrOperationFailed = errors.New("operation failed on chain")
	// ErrPendingDropped is returned by Await when the operation left the
	// pending list without appearing in the confirmed history.
	ErrPendingDropped = errors.New("pending operation dropped without confirmation")
)

// AccountSnapshot is an account with its valuation.
type AccountSnapshot struct {
	Account            tezos.Account     `json:"account"`
	EstimatedTotalXTZ  decimal.Decimal   `json:"estimated_total_xtz"`
	EstimatedTotalFiat *decimal.Decimal  `json:"estimated_total_fiat,omitempty"`
	Currency           string            `json:"currency,omitempty"`
	TokenValuesXTZ     map[string]string `json:"token_values_xtz,omitempty"`
	Stale              bool              `json:"stale"`
	Error              string            `json:"error,omitempty"`
}

// TransactionList is an address's pending groups followed by its confirmed history.
type TransactionList struct {
	Groups  []tezos.TzKTTransactionGroup `json:"groups"`
	Count   int                          `json:"count"`
	Pending int                          `json:"pending"`
}

// Wallet is a tracked wallet.
type Wallet struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// WalletList is the server's wallet registry.
type WalletList struct {
	Wallets  []Wallet `json:"wallets"`
	Selected string   `json:"selected"`
}

// PendingLeg is one operation of a broadcast batch.
type PendingLeg struct {
	Type        tezos.TransactionSubType `json:"type"`
	Destination tezos.Alias              `json:"destination"`
	XTZAmount   string                   `json:"xtz_amount,omitempty"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
	Token       *tezos.Token             `json:"token,omitempty"`
}

// PendingOperation describes a broadcast operation. Set Legs for a batch;
// otherwise the embedded leg describes a single operation.
type PendingOperation struct {
	OpHash  string `json:"op_hash"`
	Counter int64  `json:"counter,omitempty"`
	PendingLeg
	Legs []PendingLeg `json:"legs,omitempty"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the tzwallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// do sends a request with an optional JSON body. A response with status
// want is decoded into out when out is non-nil; anything else is an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, want int) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health checks the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, nil, http.StatusOK)
}

// GetAccount returns the cached snapshot of address valued in currency
// (empty for USD).
func (c *Client) GetAccount(ctx context.Context, address, currency string) (*AccountSnapshot, error) {
	path := "/api/v1/accounts/" + url.PathEscape(address)
	if currency != "" {
		path += "?currency=" + url.QueryEscape(currency)
	}
	var snap AccountSnapshot
	if err := c.do(ctx, "GET", path, nil, &snap, http.StatusOK); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Refresh asks the server to refresh address. When the refresh committed a
// snapshot but some sub-fetches failed, both the snapshot and an error are
// returned.
func (c *Client) Refresh(ctx context.Context, address string, refreshType tezos.RefreshType) (*AccountSnapshot, error) {
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/refresh"
	if refreshType != "" {
		path += "?type=" + url.QueryEscape(string(refreshType))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var snap AccountSnapshot
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(body, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		c.logger.Debug("account refreshed", "address", address, "refresh_type", refreshType)
		return &snap, nil
	case http.StatusBadGateway:
		if err := json.Unmarshal(body, &snap); err == nil && !snap.Account.IsEmpty() {
			return &snap, &APIError{StatusCode: resp.StatusCode, Message: snap.Error}
		}
	}
	return nil, errorFromBody(resp.StatusCode, body)
}

// PurgeCache deletes everything the server caches for address.
func (c *Client) PurgeCache(ctx context.Context, address string) error {
	return c.do(ctx, "DELETE", "/api/v1/accounts/"+url.PathEscape(address)+"/cache", nil, nil, http.StatusOK)
}

// Transactions lists address's pending and confirmed groups. With refresh
// set the server first reloads history from the explorer.
func (c *Client) Transactions(ctx context.Context, address string, refresh bool) (*TransactionList, error) {
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/transactions"
	if refresh {
		path += "?refresh=true"
	}
	var list TransactionList
	if err := c.do(ctx, "GET", path, nil, &list, http.StatusOK); err != nil {
		return nil, err
	}
	return &list, nil
}

// AddPending records a broadcast operation for address.
func (c *Client) AddPending(ctx context.Context, address string, op PendingOperation) error {
	if err := c.do(ctx, "POST", "/api/v1/accounts/"+url.PathEscape(address)+"/pending", op, nil, http.StatusCreated); err != nil {
		return err
	}
	c.logger.Debug("pending operation recorded", "address", address, "op_hash", op.OpHash)
	return nil
}

// PendingAddresses lists the addresses with unconfirmed operations.
func (c *Client) PendingAddresses(ctx context.Context) ([]string, error) {
	var resp struct {
		Addresses []string `json:"addresses"`
	}
	if err := c.do(ctx, "GET", "/api/v1/pending", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// Register starts tracking address. A zero interval uses the server default.
func (c *Client) Register(ctx context.Context, address, label string, interval time.Duration) error {
	req := map[string]string{"address": address}
	if label != "" {
		req["label"] = label
	}
	if interval > 0 {
		req["refresh_interval"] = interval.String()
	}

	err := c.do(ctx, "POST", "/api/v1/wallets", req, nil, http.StatusCreated)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusOK {
		// Already tracked; the label and interval were updated.
		err = nil
	}
	if err != nil {
		return err
	}
	c.logger.Debug("wallet registered", "address", address, "refresh_interval", interval)
	return nil
}

// Unregister stops tracking address. With purge set its cached data is deleted too.
func (c *Client) Unregister(ctx context.Context, address string, purge bool) error {
	path := "/api/v1/wallets/" + url.PathEscape(address)
	if purge {
		path += "?purge=true"
	}
	return c.do(ctx, "DELETE", path, nil, nil, http.StatusNoContent)
}

// Wallets returns the tracked wallets and the selected address.
func (c *Client) Wallets(ctx context.Context) (*WalletList, error) {
	var list WalletList
	if err := c.do(ctx, "GET", "/api/v1/wallets", nil, &list, http.StatusOK); err != nil {
		return nil, err
	}
	return &list, nil
}

// Select makes address the selected wallet.
func (c *Client) Select(ctx context.Context, address string) error {
	return c.do(ctx, "POST", "/api/v1/wallets/select", map[string]string{"address": address}, nil, http.StatusOK)
}

// SetTokenPreference hides or favourites the token with key "contract:tokenId".
// Nil arguments are left unchanged.
func (c *Client) SetTokenPreference(ctx context.Context, key string, hidden, favourite *bool) error {
	req := map[string]*bool{}
	if hidden != nil {
		req["hidden"] = hidden
	}
	if favourite != nil {
		req["favourite"] = favourite
	}
	return c.do(ctx, "PUT", "/api/v1/preferences/"+url.PathEscape(key), req, nil, http.StatusNoContent)
}

// Await polls address's history every pollInterval until opHash is no longer
// pending, and returns its confirmed group. It returns ErrOperationFailed
// (wrapped) when the operation did not apply, and ErrPendingDropped when it
// left the pending list without being confirmed.
func (c *Client) Await(ctx context.Context, address, opHash string, pollInterval time.Duration) (*tezos.TzKTTransactionGroup, error) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		list, err := c.Transactions(ctx, address, true)
		if err != nil {
			c.logger.Warn("await poll failed", "address", address, "op_hash", opHash, "error", err)
		} else if group, done, err := settled(list, opHash); done {
			return group, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await %s: %w", opHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// settled reports whether opHash has left the pending part of list and, if
// so, its confirmed group.
func settled(list *TransactionList, opHash string) (*tezos.TzKTTransactionGroup, bool, error) {
	for i, g := range list.Groups {
		if g.Hash != opHash {
			continue
		}
		if i < list.Pending {
			return nil, false, nil
		}
		if g.Status.IsFailure() {
			return &g, true, fmt.Errorf("%w: %s %s", ErrOperationFailed, opHash, g.Status)
		}
		return &g, true, nil
	}
	return nil, true, fmt.Errorf("%w: %s", ErrPendingDropped, opHash)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return errorFromBody(resp.StatusCode, body)
}

func errorFromBody(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: status, Message: string(body)}
	}
	return &APIError{StatusCode: status, Message: errResp.Error}
}
