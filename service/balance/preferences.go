package balance

import (
	"cmp"
	"math"
	"slices"

	"github.com/brojonat/tzwallet/service/tezos"
)

// Preference is the user's display choice for one token or NFT.
type Preference struct {
	Hidden    bool `json:"hidden"`
	Favourite bool `json:"favourite"`
	SortIndex *int `json:"sort_index,omitempty"`
}

// Preferences maps a token key ("contract:tokenId") to its preference. NFT
// collections are keyed by contract address alone.
type Preferences map[string]Preference

func collectionKey(t tezos.Token) string {
	return t.ContractAddress
}

// setFavourite marks key as favourite at the end of the favourites list, or
// removes it and closes the gap in the remaining indices.
func (p Preferences) setFavourite(key string, favourite bool) {
	pref := p[key]
	if pref.Favourite == favourite {
		return
	}

	if favourite {
		next := 0
		for _, other := range p {
			if other.Favourite && other.SortIndex != nil && *other.SortIndex >= next {
				next = *other.SortIndex + 1
			}
		}
		pref.Favourite = true
		pref.SortIndex = &next
		p[key] = pref
		return
	}

	removed := pref.SortIndex
	pref.Favourite = false
	pref.SortIndex = nil
	p[key] = pref
	if removed == nil {
		return
	}
	for k, other := range p {
		if other.SortIndex != nil && *other.SortIndex > *removed {
			idx := *other.SortIndex - 1
			other.SortIndex = &idx
			p[k] = other
		}
	}
}

func (p Preferences) setHidden(key string, hidden bool) {
	pref := p[key]
	pref.Hidden = hidden
	p[key] = pref
}

// apply copies preferences onto every token, collection and NFT in acc and
// moves favourite tokens to the front in sort-index order.
func (p Preferences) apply(acc *tezos.Account) {
	for i := range acc.Tokens {
		t := &acc.Tokens[i]
		pref := p[t.Key()]
		t.IsHidden = pref.Hidden
		t.IsFavourite = pref.Favourite
		t.FavouriteSortIndex = pref.SortIndex
	}

	for i := range acc.NFTs {
		col := &acc.NFTs[i]
		pref := p[collectionKey(*col)]
		col.IsHidden = pref.Hidden
		col.IsFavourite = pref.Favourite
		col.FavouriteSortIndex = pref.SortIndex
		for j := range col.NFTs {
			n := &col.NFTs[j]
			pref := p[n.Key()]
			n.IsHidden = pref.Hidden
			n.IsFavourite = pref.Favourite
			n.FavouriteSortIndex = pref.SortIndex
		}
	}

	slices.SortStableFunc(acc.Tokens, func(a, b tezos.Token) int {
		switch {
		case a.IsFavourite && !b.IsFavourite:
			return -1
		case !a.IsFavourite && b.IsFavourite:
			return 1
		case a.IsFavourite && b.IsFavourite:
			return cmp.Compare(sortIndex(a.FavouriteSortIndex), sortIndex(b.FavouriteSortIndex))
		}
		return 0
	})
}

func sortIndex(i *int) int {
	if i == nil {
		return math.MaxInt
	}
	return *i
}
