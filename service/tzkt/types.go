package tzkt

import (
	"strconv"
	"time"

	"github.com/brojonat/tzwallet/service/tezos"
)

// accountResponse is the subset of /v1/accounts/{address} we read.
type accountResponse struct {
	Type     string       `json:"type"`
	Address  string       `json:"address"`
	Balance  int64        `json:"balance"`
	Counter  int64        `json:"counter"`
	Delegate *tezos.Alias `json:"delegate"`
}

// TokenInfo describes a token contract entry.
type TokenInfo struct {
	ID       int64          `json:"id"`
	Contract tezos.Alias    `json:"contract"`
	TokenID  string         `json:"tokenId"`
	Standard string         `json:"standard"`
	Metadata map[string]any `json:"metadata"`
}

type tokenBalance struct {
	Token   TokenInfo `json:"token"`
	Balance string    `json:"balance"`
}

type parameter struct {
	Entrypoint string `json:"entrypoint"`
}

type operationError struct {
	Type string `json:"type"`
}

// Operation is a raw explorer operation.
type Operation struct {
	Type        string           `json:"type"`
	ID          int64            `json:"id"`
	Level       int64            `json:"level"`
	Timestamp   time.Time        `json:"timestamp"`
	Hash        string           `json:"hash"`
	Counter     int64            `json:"counter"`
	Sender      *tezos.Alias     `json:"sender"`
	Target      *tezos.Alias     `json:"target"`
	NewDelegate *tezos.Alias     `json:"newDelegate"`
	Amount      int64            `json:"amount"`
	Parameter   *parameter       `json:"parameter"`
	Status      string           `json:"status"`
	Errors      []operationError `json:"errors"`
}

// TokenTransfer is a raw FA1.2/FA2 transfer.
type TokenTransfer struct {
	ID            int64        `json:"id"`
	Level         int64        `json:"level"`
	Timestamp     time.Time    `json:"timestamp"`
	Token         TokenInfo    `json:"token"`
	From          *tezos.Alias `json:"from"`
	To            *tezos.Alias `json:"to"`
	Amount        string       `json:"amount"`
	TransactionID *int64       `json:"transactionId"`
}

// NetworkVersion is the chain head summary.
type NetworkVersion struct {
	Chain     string    `json:"chain"`
	ChainID   string    `json:"chainId"`
	Protocol  string    `json:"protocol"`
	Level     int64     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

type contractAlias struct {
	Address string  `json:"address"`
	Alias   *string `json:"alias"`
}

func (t TokenInfo) meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	switch v := t.Metadata[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Decimals parses the metadata decimals, defaulting to zero.
func (t TokenInfo) Decimals() int32 {
	d, err := strconv.ParseInt(t.meta("decimals"), 10, 32)
	if err != nil || d < 0 {
		return 0
	}
	return int32(d)
}

// IsNFT reports whether the token looks like a non-fungible piece: no
// decimals plus an artifact or display asset.
func (t TokenInfo) IsNFT() bool {
	return t.Decimals() == 0 && (t.meta("artifactUri") != "" || t.meta("displayUri") != "")
}

// Token converts the entry to the wallet model with the given raw balance.
func (t TokenInfo) Token(rawAmount string) tezos.Token {
	amount, err := tezos.NewTokenAmount(rawAmount, t.Decimals())
	if err != nil {
		amount = tezos.ZeroAmount(t.Decimals())
	}

	tokenType := tezos.TokenTypeFungible
	if t.IsNFT() {
		tokenType = tezos.TokenTypeNonFungible
	}

	thumb := t.meta("thumbnailUri")
	if thumb == "" {
		thumb = t.meta("displayUri")
	}

	name := t.meta("name")
	if name == "" && t.Contract.Alias != nil {
		name = *t.Contract.Alias
	}

	return tezos.Token{
		Name:            name,
		Symbol:          t.meta("symbol"),
		TokenType:       tokenType,
		Balance:         amount,
		ContractAddress: t.Contract.Address,
		TokenID:         t.TokenID,
		ThumbnailURL:    thumb,
		MintingTool:     t.meta("mintingTool"),
	}
}

// NFT converts the entry to a single collection piece.
func (t TokenInfo) NFT(rawAmount string) tezos.NFT {
	amount, err := tezos.NewTokenAmount(rawAmount, 0)
	if err != nil {
		amount = tezos.ZeroAmount(0)
	}
	return tezos.NFT{
		ParentContract: t.Contract.Address,
		TokenID:        t.TokenID,
		Name:           t.meta("name"),
		Description:    t.meta("description"),
		DisplayURI:     t.meta("displayUri"),
		ThumbnailURI:   t.meta("thumbnailUri"),
		Balance:        amount,
	}
}

// ToTransaction converts a raw operation without classifying it.
func (op Operation) ToTransaction() tezos.TzKTTransaction {
	tx := tezos.TzKTTransaction{
		ID:          op.ID,
		Type:        tezos.OperationType(op.Type),
		SubType:     tezos.SubTypeUnknown,
		Status:      tezos.TransactionStatus(op.Status),
		Hash:        op.Hash,
		Counter:     op.Counter,
		Level:       op.Level,
		Timestamp:   op.Timestamp,
		Target:      op.Target,
		NewDelegate: op.NewDelegate,
		Amount:      tezos.Mutez(op.Amount),
	}
	if op.Sender != nil {
		tx.Sender = *op.Sender
	}
	if op.Parameter != nil && op.Parameter.Entrypoint != "" {
		tx.Parameter = map[string]string{"entrypoint": op.Parameter.Entrypoint}
	}
	if len(op.Errors) > 0 {
		tx.ErrorDescription = op.Errors[0].Type
	}
	return tx
}
