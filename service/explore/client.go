// Package explore loads curated NFT collection branding keyed by contract.
package explore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/tzwallet/service/diskcache"
	"github.com/brojonat/tzwallet/service/upstream"
)

// Collection is the curated branding for one NFT contract.
type Collection struct {
	Address      string   `json:"address"`
	Name         string   `json:"name"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	MintingTool  string   `json:"mintingTool,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
}

type response struct {
	Contracts []Collection `json:"contracts"`
}

// Index maps normalized contract address to its collection.
type Index map[string]Collection

// Lookup returns the branding for contract, if curated.
func (i Index) Lookup(contract string) (Collection, bool) {
	c, ok := i[diskcache.NormalizedKey(contract)]
	return c, ok
}

// Client reads the curated explore feed.
type Client struct {
	api    *upstream.Client
	logger *slog.Logger
}

// NewClient wraps api; a nil api or empty base URL disables the feed.
func NewClient(api *upstream.Client, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// Enabled reports whether a feed URL is configured.
func (c *Client) Enabled() bool {
	return c.api != nil && c.api.BaseURL() != ""
}

// FetchExplore returns the curated collections. A disabled client returns an
// empty index.
func (c *Client) FetchExplore(ctx context.Context) (Index, error) {
	if !c.Enabled() {
		return Index{}, nil
	}

	var resp response
	if err := c.api.GetJSON(ctx, "explore", "/explore", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch explore data: %w", err)
	}

	idx := make(Index, len(resp.Contracts))
	for _, col := range resp.Contracts {
		if col.Address == "" {
			continue
		}
		idx[diskcache.NormalizedKey(col.Address)] = col
	}
	c.logger.DebugContext(ctx, "fetched explore data", "collections", len(idx))
	return idx, nil
}
