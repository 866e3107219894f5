// Package tezos holds the wallet domain model shared by the balance and
// activity services: accounts, tokens, NFTs and explorer transactions.
package tezos

import (
	"time"
)

// TokenType classifies a token held by an account.
type TokenType string

const (
	TokenTypeXTZ         TokenType = "xtz"
	TokenTypeFungible    TokenType = "fungible"
	TokenTypeNonFungible TokenType = "nonfungible"
)

// Alias is an address with an optional human-readable name.
type Alias struct {
	Address string  `json:"address"`
	Alias   *string `json:"alias,omitempty"`
}

// NFT is a single non-fungible token inside a collection.
type NFT struct {
	ParentContract     string      `json:"parent_contract"`
	TokenID            string      `json:"token_id"`
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	DisplayURI         string      `json:"display_uri,omitempty"`
	ThumbnailURI       string      `json:"thumbnail_uri,omitempty"`
	Balance            TokenAmount `json:"balance"`
	IsHidden           bool        `json:"is_hidden"`
	IsFavourite        bool        `json:"is_favourite"`
	FavouriteSortIndex *int        `json:"favourite_sort_index,omitempty"`
}

// Key identifies the NFT for preference lookups.
func (n NFT) Key() string {
	return TokenKey(n.ParentContract, n.TokenID)
}

// Token is a fungible token balance or, when TokenType is nonfungible, an
// NFT collection grouping its NFTs.
type Token struct {
	Name               string      `json:"name"`
	Symbol             string      `json:"symbol"`
	TokenType          TokenType   `json:"token_type"`
	Balance            TokenAmount `json:"balance"`
	ContractAddress    string      `json:"contract_address"`
	TokenID            string      `json:"token_id,omitempty"`
	ThumbnailURL       string      `json:"thumbnail_url,omitempty"`
	MintingTool        string      `json:"minting_tool,omitempty"`
	NFTs               []NFT       `json:"nfts,omitempty"`
	IsHidden           bool        `json:"is_hidden"`
	IsFavourite        bool        `json:"is_favourite"`
	FavouriteSortIndex *int        `json:"favourite_sort_index,omitempty"`
}

// Key identifies the token for preference and pricing lookups.
func (t Token) Key() string {
	return TokenKey(t.ContractAddress, t.TokenID)
}

// IsXTZ reports whether the token represents the native currency.
func (t Token) IsXTZ() bool {
	return t.TokenType == TokenTypeXTZ
}

// TokenKey builds the "contract:tokenId" key used across caches.
func TokenKey(contract, tokenID string) string {
	if tokenID == "" {
		tokenID = "0"
	}
	return contract + ":" + tokenID
}

// XTZToken returns a token describing an amount of the native currency.
func XTZToken(amount TokenAmount) Token {
	return Token{
		Name:      "Tezos",
		Symbol:    "XTZ",
		TokenType: TokenTypeXTZ,
		Balance:   amount,
	}
}

// Account is one wallet address's holdings at a point in time.
type Account struct {
	WalletAddress string      `json:"wallet_address"`
	XTZBalance    TokenAmount `json:"xtz_balance"`
	Tokens        []Token     `json:"tokens"`
	NFTs          []Token     `json:"nfts"`
	Delegate      *Alias      `json:"delegate,omitempty"`
}

// NewAccount returns an empty account for the given address.
func NewAccount(address string) Account {
	return Account{
		WalletAddress: address,
		XTZBalance:    ZeroAmount(XTZDecimals),
		Tokens:        []Token{},
		NFTs:          []Token{},
	}
}

// IsEmpty reports whether the account has never been populated.
func (a Account) IsEmpty() bool {
	return a.WalletAddress == ""
}

// TransactionStatus is the explorer status of an operation.
type TransactionStatus string

const (
	StatusUnconfirmed TransactionStatus = "unconfirmed"
	StatusApplied     TransactionStatus = "applied"
	StatusFailed      TransactionStatus = "failed"
	StatusBacktracked TransactionStatus = "backtracked"
	StatusSkipped     TransactionStatus = "skipped"
)

// IsFailure reports whether the status means the operation did not apply.
func (s TransactionStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusBacktracked || s == StatusSkipped
}

// OperationType is the raw explorer operation kind.
type OperationType string

const (
	OperationTransaction OperationType = "transaction"
	OperationDelegation  OperationType = "delegation"
	OperationReveal      OperationType = "reveal"
	OperationOrigination OperationType = "origination"
)

// TransactionSubType is the wallet-facing classification of an operation.
type TransactionSubType string

const (
	SubTypeSend         TransactionSubType = "send"
	SubTypeReceive      TransactionSubType = "receive"
	SubTypeDelegate     TransactionSubType = "delegate"
	SubTypeContractCall TransactionSubType = "contractCall"
	SubTypeExchange     TransactionSubType = "exchange"
	SubTypeUnknown      TransactionSubType = "unknown"
)

// TzKTTransaction is a confirmed or pending operation as the wallet sees it.
type TzKTTransaction struct {
	ID               int64              `json:"id"`
	Type             OperationType      `json:"type"`
	SubType          TransactionSubType `json:"sub_type"`
	Status           TransactionStatus  `json:"status"`
	Hash             string             `json:"hash"`
	Counter          int64              `json:"counter"`
	Level            int64              `json:"level"`
	Timestamp        time.Time          `json:"timestamp"`
	Sender           Alias              `json:"sender"`
	Target           *Alias             `json:"target,omitempty"`
	NewDelegate      *Alias             `json:"new_delegate,omitempty"`
	Amount           TokenAmount        `json:"amount"`
	Parameter        map[string]string  `json:"parameter,omitempty"`
	PrimaryToken     *Token             `json:"primary_token,omitempty"`
	TokenFrom        *Alias             `json:"token_from,omitempty"`
	TokenTo          *Alias             `json:"token_to,omitempty"`
	ErrorDescription string             `json:"error_description,omitempty"`
}

// TzKTTransactionGroup is a set of operations that form one logical user
// action (a batch, or a token approval plus swap).
type TzKTTransactionGroup struct {
	ID              int64              `json:"id"`
	GroupType       TransactionSubType `json:"group_type"`
	Hash            string             `json:"hash"`
	Status          TransactionStatus  `json:"status"`
	Transactions    []TzKTTransaction  `json:"transactions"`
	PrimaryToken    *Token             `json:"primary_token,omitempty"`
	ExchangeSend    *Token             `json:"exchange_send,omitempty"`
	ExchangeReceive *Token             `json:"exchange_receive,omitempty"`
}

// NewTransactionGroup builds a group from operations sharing one hash.
// The group takes its id, status and type from its member operations.
func NewTransactionGroup(txs []TzKTTransaction) TzKTTransactionGroup {
	g := TzKTTransactionGroup{Transactions: txs, GroupType: SubTypeUnknown}
	if len(txs) == 0 {
		return g
	}
	g.Hash = txs[0].Hash
	g.ID = txs[0].ID
	g.Status = StatusApplied
	g.GroupType = txs[0].SubType
	g.PrimaryToken = txs[0].PrimaryToken
	for _, tx := range txs {
		if tx.ID > g.ID {
			g.ID = tx.ID
		}
		if tx.Status.IsFailure() || tx.Status == StatusUnconfirmed {
			g.Status = tx.Status
		}
		if tx.SubType == SubTypeContractCall && g.GroupType != SubTypeExchange {
			g.GroupType = SubTypeContractCall
		}
	}
	return g
}

// FirstTimestamp returns the timestamp of the group's first operation.
func (g TzKTTransactionGroup) FirstTimestamp() time.Time {
	if len(g.Transactions) == 0 {
		return time.Time{}
	}
	return g.Transactions[0].Timestamp
}

// MaxID returns the highest operation id in the group.
func (g TzKTTransactionGroup) MaxID() int64 {
	id := g.ID
	for _, tx := range g.Transactions {
		if tx.ID > id {
			id = tx.ID
		}
	}
	return id
}

// ErrorDescription returns the first error description carried by a member operation.
func (g TzKTTransactionGroup) ErrorDescription() string {
	for _, tx := range g.Transactions {
		if tx.ErrorDescription != "" {
			return tx.ErrorDescription
		}
	}
	return ""
}

// PendingBatchInfo describes one leg of a multi-operation batch before it is
// turned into a placeholder transaction.
type PendingBatchInfo struct {
	Type         TransactionSubType
	Destination  Alias
	XTZAmount    TokenAmount
	Parameters   map[string]string
	PrimaryToken *Token
}

// RefreshType controls which sub-fetches a balance refresh performs.
type RefreshType string

const (
	RefreshUseCache          RefreshType = "useCache"
	RefreshAccountOnly       RefreshType = "refreshAccountOnly"
	RefreshEverything        RefreshType = "refreshEverything"
	RefreshEverythingIfStale RefreshType = "refreshEverythingIfStale"
)

// ParseRefreshType validates a refresh type name.
func ParseRefreshType(s string) (RefreshType, bool) {
	switch RefreshType(s) {
	case RefreshUseCache, RefreshAccountOnly, RefreshEverything, RefreshEverythingIfStale:
		return RefreshType(s), true
	}
	return "", false
}
