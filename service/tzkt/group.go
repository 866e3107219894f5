package tzkt

import (
	"sort"

	"github.com/brojonat/tzwallet/service/tezos"
)

// GroupTransactions classifies each transaction relative to currentAddress
// and merges operations sharing an operation hash into one group. A group in
// which the wallet both gives and receives value (XTZ for a token, or token
// for token) becomes an exchange. Groups are returned newest first.
func GroupTransactions(txs []tezos.TzKTTransaction, currentAddress string) []tezos.TzKTTransactionGroup {
	var order []string
	byHash := map[string][]tezos.TzKTTransaction{}

	for _, tx := range txs {
		if tx.Type == tezos.OperationReveal {
			continue
		}
		tx.SubType = Classify(tx, currentAddress)
		if _, ok := byHash[tx.Hash]; !ok {
			order = append(order, tx.Hash)
		}
		byHash[tx.Hash] = append(byHash[tx.Hash], tx)
	}

	groups := make([]tezos.TzKTTransactionGroup, 0, len(order))
	for _, hash := range order {
		members := byHash[hash]
		sort.SliceStable(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		g := tezos.NewTransactionGroup(members)
		if send, receive, ok := detectExchange(members, currentAddress); ok {
			g.GroupType = tezos.SubTypeExchange
			g.ExchangeSend = send
			g.ExchangeReceive = receive
			g.PrimaryToken = receive
		} else {
			g.GroupType = groupType(members)
			if g.PrimaryToken == nil {
				g.PrimaryToken = firstToken(members)
			}
		}
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].ID > groups[j].ID })
	return groups
}

// Classify returns the wallet-facing sub type of tx from currentAddress's
// point of view.
func Classify(tx tezos.TzKTTransaction, currentAddress string) tezos.TransactionSubType {
	fromMe := tx.Sender.Address == currentAddress
	toMe := tx.Target != nil && tx.Target.Address == currentAddress

	switch tx.Type {
	case tezos.OperationDelegation:
		return tezos.SubTypeDelegate

	case tezos.OperationOrigination:
		if fromMe {
			return tezos.SubTypeContractCall
		}
		return tezos.SubTypeUnknown

	case tezos.OperationTransaction:
		if tx.PrimaryToken != nil {
			switch {
			case tx.TokenFrom != nil && tx.TokenFrom.Address == currentAddress:
				return tezos.SubTypeSend
			case tx.TokenTo != nil && tx.TokenTo.Address == currentAddress:
				return tezos.SubTypeReceive
			}
		}
		if tx.Parameter["entrypoint"] != "" {
			switch {
			case fromMe:
				return tezos.SubTypeContractCall
			case toMe:
				return tezos.SubTypeReceive
			}
			return tezos.SubTypeUnknown
		}
		switch {
		case fromMe:
			return tezos.SubTypeSend
		case toMe:
			return tezos.SubTypeReceive
		}
	}
	return tezos.SubTypeUnknown
}

// detectExchange looks for value leaving and entering the wallet within one
// group and returns the first outgoing and incoming assets.
func detectExchange(members []tezos.TzKTTransaction, currentAddress string) (send, receive *tezos.Token, ok bool) {
	var outs, ins []tezos.Token

	for _, tx := range members {
		if tx.PrimaryToken != nil {
			if tx.TokenFrom != nil && tx.TokenFrom.Address == currentAddress {
				outs = append(outs, *tx.PrimaryToken)
			}
			if tx.TokenTo != nil && tx.TokenTo.Address == currentAddress {
				ins = append(ins, *tx.PrimaryToken)
			}
		}
		if tx.Amount.IsZero() || tx.Target == nil {
			continue
		}
		if tx.Sender.Address == currentAddress && tezos.IsContract(tx.Target.Address) && tx.Parameter["entrypoint"] != "" {
			outs = append(outs, tezos.XTZToken(tx.Amount))
		}
		if tx.Target.Address == currentAddress && tezos.IsContract(tx.Sender.Address) {
			ins = append(ins, tezos.XTZToken(tx.Amount))
		}
	}

	if len(outs) == 0 || len(ins) == 0 {
		return nil, nil, false
	}
	if outs[0].Key() == ins[0].Key() && outs[0].TokenType == ins[0].TokenType {
		return nil, nil, false
	}
	return &outs[0], &ins[0], true
}

func groupType(members []tezos.TzKTTransaction) tezos.TransactionSubType {
	if len(members) == 1 {
		return members[0].SubType
	}
	for _, tx := range members {
		if tx.SubType == tezos.SubTypeContractCall {
			return tezos.SubTypeContractCall
		}
	}
	for _, tx := range members {
		if tx.SubType != tezos.SubTypeUnknown {
			return tx.SubType
		}
	}
	return tezos.SubTypeUnknown
}

func firstToken(members []tezos.TzKTTransaction) *tezos.Token {
	for _, tx := range members {
		if tx.PrimaryToken != nil {
			return tx.PrimaryToken
		}
	}
	return nil
}

// GroupTransactions groups txs relative to currentAddress.
func (c *Client) GroupTransactions(txs []tezos.TzKTTransaction, currentAddress string) []tezos.TzKTTransactionGroup {
	return GroupTransactions(txs, currentAddress)
}
