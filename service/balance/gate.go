package balance

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Shared feeds, each refreshed at most once per TTL across all addresses.
const (
	feedExplore      = "explore"
	feedPrice        = "xtz_price"
	feedExchangeRate = "exchange_rates"
	feedNetwork      = "network"
	feedDex          = "dex_data"
)

// feedGate decides whether a shared feed is due. A feed is claimed before it
// is fetched so concurrent refreshes for different addresses fetch it once;
// a failed fetch releases the claim so the next refresh retries.
type feedGate struct {
	claims *cache.Cache
	ttls   map[string]time.Duration
}

func newFeedGate(ttls map[string]time.Duration) *feedGate {
	return &feedGate{
		claims: cache.New(cache.NoExpiration, 10*time.Minute),
		ttls:   ttls,
	}
}

// claim reports whether feed is due and, if so, marks it fetched.
func (g *feedGate) claim(feed string) bool {
	return g.claims.Add(feed, time.Now(), g.ttls[feed]) == nil
}

// force marks feed fetched regardless of its state.
func (g *feedGate) force(feed string) {
	g.claims.Set(feed, time.Now(), g.ttls[feed])
}

func (g *feedGate) release(feed string) {
	g.claims.Delete(feed)
}

func (g *feedGate) reset() {
	g.claims.Flush()
}
