// Package tzkt talks to the TzKT block explorer API.
package tzkt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/brojonat/tzwallet/service/upstream"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when the explorer does not know a resource.
var ErrNotFound = upstream.ErrNotFound

// maxTokenBalances bounds the single-page token balance request.
const maxTokenBalances = 10000

// Client provides explorer reads for one network.
type Client struct {
	api    *upstream.Client
	logger *slog.Logger
}

// NewClient wraps a configured upstream client.
func NewClient(api *upstream.Client, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// GetAllBalances returns the address's XTZ balance, delegate, fungible tokens
// and NFTs grouped into one Token per collection contract.
func (c *Client) GetAllBalances(ctx context.Context, address string) (*tezos.Account, error) {
	var (
		acc      accountResponse
		balances []tokenBalance
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.api.GetJSON(gctx, "accounts", "/v1/accounts/"+url.PathEscape(address), &acc); err != nil {
			return fmt.Errorf("failed to fetch account %s: %w", address, err)
		}
		return nil
	})
	g.Go(func() error {
		q := url.Values{}
		q.Set("account", address)
		q.Set("balance.gt", "0")
		q.Set("limit", strconv.Itoa(maxTokenBalances))
		if err := c.api.GetJSON(gctx, "token_balances", "/v1/tokens/balances?"+q.Encode(), &balances); err != nil {
			return fmt.Errorf("failed to fetch token balances for %s: %w", address, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	account := tezos.NewAccount(address)
	account.XTZBalance = tezos.Mutez(acc.Balance)
	account.Delegate = acc.Delegate
	account.Tokens, account.NFTs = splitBalances(balances)

	c.logger.DebugContext(ctx, "fetched balances",
		"address", address,
		"tokens", len(account.Tokens),
		"collections", len(account.NFTs),
	)
	return &account, nil
}

// splitBalances separates fungible tokens from NFTs and groups NFTs by
// contract, preserving first-seen order.
func splitBalances(balances []tokenBalance) (tokens []tezos.Token, collections []tezos.Token) {
	tokens = []tezos.Token{}
	collections = []tezos.Token{}
	index := map[string]int{}

	for _, b := range balances {
		if !b.Token.IsNFT() {
			tokens = append(tokens, b.Token.Token(b.Balance))
			continue
		}

		contract := b.Token.Contract.Address
		i, ok := index[contract]
		if !ok {
			name := ""
			if b.Token.Contract.Alias != nil {
				name = *b.Token.Contract.Alias
			}
			collections = append(collections, tezos.Token{
				Name:            name,
				TokenType:       tezos.TokenTypeNonFungible,
				ContractAddress: contract,
				Balance:         tezos.ZeroAmount(0),
				MintingTool:     b.Token.meta("mintingTool"),
			})
			i = len(collections) - 1
			index[contract] = i
		}

		nft := b.Token.NFT(b.Balance)
		col := &collections[i]
		col.NFTs = append(col.NFTs, nft)
		col.Balance = col.Balance.Add(nft.Balance)
		if col.ThumbnailURL == "" {
			col.ThumbnailURL = nft.ThumbnailURI
		}
	}
	return tokens, collections
}

// FetchOperations returns raw operations involving address, newest first.
func (c *Client) FetchOperations(ctx context.Context, address string, limit int) ([]Operation, error) {
	q := url.Values{}
	q.Set("type", "transaction,delegation,origination")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "1")

	var ops []Operation
	path := "/v1/accounts/" + url.PathEscape(address) + "/operations?" + q.Encode()
	if err := c.api.GetJSON(ctx, "operations", path, &ops); err != nil {
		return nil, fmt.Errorf("failed to fetch operations for %s: %w", address, err)
	}
	return ops, nil
}

// FetchTokenTransfers returns token transfers to or from address, newest first.
func (c *Client) FetchTokenTransfers(ctx context.Context, address string, limit int) ([]TokenTransfer, error) {
	q := url.Values{}
	q.Set("anyof.from.to", address)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort.desc", "id")

	var transfers []TokenTransfer
	if err := c.api.GetJSON(ctx, "token_transfers", "/v1/tokens/transfers?"+q.Encode(), &transfers); err != nil {
		return nil, fmt.Errorf("failed to fetch token transfers for %s: %w", address, err)
	}
	return transfers, nil
}

// FetchTransactions returns up to limit operations for address with their
// token transfers attached, newest first. Transfers that have no parent
// operation in the page (mints, airdrops by third parties) become standalone
// receive entries.
func (c *Client) FetchTransactions(ctx context.Context, address string, limit int) ([]tezos.TzKTTransaction, error) {
	var (
		ops       []Operation
		transfers []TokenTransfer
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ops, err = c.FetchOperations(gctx, address, limit)
		return err
	})
	g.Go(func() error {
		var err error
		transfers, err = c.FetchTokenTransfers(gctx, address, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	txs := MergeTransfers(ops, transfers, address)
	c.logger.DebugContext(ctx, "fetched transactions",
		"address", address,
		"operations", len(ops),
		"transfers", len(transfers),
	)
	return txs, nil
}

// MergeTransfers attaches each transfer to the operation it was emitted by.
func MergeTransfers(ops []Operation, transfers []TokenTransfer, address string) []tezos.TzKTTransaction {
	byTx := make(map[int64]TokenTransfer, len(transfers))
	var orphans []TokenTransfer
	opIDs := make(map[int64]struct{}, len(ops))
	for _, op := range ops {
		opIDs[op.ID] = struct{}{}
	}

	for _, tr := range transfers {
		if tr.TransactionID == nil {
			orphans = append(orphans, tr)
			continue
		}
		if _, ok := opIDs[*tr.TransactionID]; !ok {
			orphans = append(orphans, tr)
			continue
		}
		// prefer the transfer that touches the wallet when a call emits several
		if existing, ok := byTx[*tr.TransactionID]; ok && involves(existing, address) {
			continue
		}
		byTx[*tr.TransactionID] = tr
	}

	txs := make([]tezos.TzKTTransaction, 0, len(ops)+len(orphans))
	for _, op := range ops {
		tx := op.ToTransaction()
		if tr, ok := byTx[op.ID]; ok {
			attachTransfer(&tx, tr)
		}
		txs = append(txs, tx)
	}

	for _, tr := range orphans {
		id := tr.ID
		if tr.TransactionID != nil {
			id = *tr.TransactionID
		}
		tx := tezos.TzKTTransaction{
			ID:        id,
			Type:      tezos.OperationTransaction,
			SubType:   tezos.SubTypeUnknown,
			Status:    tezos.StatusApplied,
			Hash:      fmt.Sprintf("token-transfer-%d", tr.ID),
			Level:     tr.Level,
			Timestamp: tr.Timestamp,
			Amount:    tezos.Mutez(0),
		}
		if tr.From != nil {
			tx.Sender = *tr.From
		} else {
			tx.Sender = tr.Token.Contract
		}
		attachTransfer(&tx, tr)
		txs = append(txs, tx)
	}

	sort.SliceStable(txs, func(i, j int) bool { return txs[i].ID > txs[j].ID })
	return txs
}

func involves(tr TokenTransfer, address string) bool {
	return (tr.From != nil && tr.From.Address == address) || (tr.To != nil && tr.To.Address == address)
}

func attachTransfer(tx *tezos.TzKTTransaction, tr TokenTransfer) {
	token := tr.Token.Token(tr.Amount)
	tx.PrimaryToken = &token
	tx.TokenFrom = tr.From
	tx.TokenTo = tr.To
}

// GetNetworkVersion returns the current chain head.
func (c *Client) GetNetworkVersion(ctx context.Context) (*NetworkVersion, error) {
	var head NetworkVersion
	if err := c.api.GetJSON(ctx, "head", "/v1/head", &head); err != nil {
		return nil, fmt.Errorf("failed to fetch chain head: %w", err)
	}
	return &head, nil
}

// ContractAliases resolves names for contract addresses. Contracts without an
// alias are omitted from the result.
func (c *Client) ContractAliases(ctx context.Context, addresses []string) (map[string]string, error) {
	out := map[string]string{}
	if len(addresses) == 0 {
		return out, nil
	}

	q := url.Values{}
	q.Set("address.in", strings.Join(addresses, ","))
	q.Set("select", "address,alias")
	q.Set("limit", strconv.Itoa(len(addresses)))

	var rows []contractAlias
	if err := c.api.GetJSON(ctx, "contracts", "/v1/contracts?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch contract aliases: %w", err)
	}
	for _, r := range rows {
		if r.Alias != nil && *r.Alias != "" {
			out[r.Address] = *r.Alias
		}
	}
	return out, nil
}
