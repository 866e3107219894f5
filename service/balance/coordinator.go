// Package balance keeps one consistent Account snapshot per wallet by fanning
// out to the explorer, price, DEX and explore feeds and committing the merged
// result once every sub-fetch has reported.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/brojonat/tzwallet/service/dex"
	"github.com/brojonat/tzwallet/service/diskcache"
	"github.com/brojonat/tzwallet/service/explore"
	"github.com/brojonat/tzwallet/service/metrics"
	natspkg "github.com/brojonat/tzwallet/service/nats"
	"github.com/brojonat/tzwallet/service/prices"
	"github.com/brojonat/tzwallet/service/tezos"
	"github.com/brojonat/tzwallet/service/tzkt"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleAfter is how long a full refresh stays fresh.
const DefaultStaleAfter = 120 * time.Second

// Explorer provides on-chain balances and chain metadata.
type Explorer interface {
	GetAllBalances(ctx context.Context, address string) (*tezos.Account, error)
	GetNetworkVersion(ctx context.Context) (*tzkt.NetworkVersion, error)
	ContractAliases(ctx context.Context, addresses []string) (map[string]string, error)
}

// History refreshes an address's transaction history.
type History interface {
	FetchTransactionGroups(ctx context.Context, address string) ([]tezos.TzKTTransactionGroup, error)
}

// DexSource lists liquidity pools.
type DexSource interface {
	GetAllExchangesAndTokens(ctx context.Context) ([]dex.Exchange, error)
}

// PriceSource provides fiat valuations of XTZ.
type PriceSource interface {
	FetchTezosPrice(ctx context.Context) (decimal.Decimal, error)
	FetchExchangeRates(ctx context.Context) (prices.ExchangeRates, error)
}

// ExploreSource provides curated collection branding.
type ExploreSource interface {
	FetchExplore(ctx context.Context) (explore.Index, error)
}

// Config holds a Coordinator's collaborators. Store and Explorer are
// required; a nil History, Dex, Prices or Explore disables that feed.
type Config struct {
	Store     diskcache.Store
	Explorer  Explorer
	History   History
	Dex       DexSource
	Prices    PriceSource
	Explore   ExploreSource
	Publisher natspkg.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	StaleAfter      time.Duration
	ExploreTTL      time.Duration
	PriceTTL        time.Duration
	ExchangeRateTTL time.Duration
	NetworkTTL      time.Duration
	DexDataTTL      time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// priceCache is the persisted layout of the exchange rates file.
type priceCache struct {
	XTZPrice  decimal.Decimal      `json:"xtz_price"`
	Rates     prices.ExchangeRates `json:"rates"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Coordinator produces Account snapshots. Identical refreshes for the same
// address are collapsed: a caller arriving while one is in flight shares its
// result.
type Coordinator struct {
	store     diskcache.Store
	explorer  Explorer
	history   History
	dex       DexSource
	prices    PriceSource
	explore   ExploreSource
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	staleAfter time.Duration
	now        func() time.Time
	gate       *feedGate
	flight     singleflight.Group
	persistMu  sync.Mutex

	mu          sync.RWMutex
	account     tezos.Account
	exchanges   []dex.Exchange
	pools       map[string]dex.Exchange
	xtzPrice    decimal.Decimal
	rates       prices.ExchangeRates
	network     *tzkt.NetworkVersion
	collections explore.Index
	prefs       Preferences
	lastFull    map[string]time.Time
}

// NewCoordinator creates a Coordinator with empty state. Call LoadCache to
// hydrate it from the store.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		store:      cfg.Store,
		explorer:   cfg.Explorer,
		history:    cfg.History,
		dex:        cfg.Dex,
		prices:     cfg.Prices,
		explore:    cfg.Explore,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		staleAfter: cfg.StaleAfter,
		now:        cfg.Now,
		gate: newFeedGate(map[string]time.Duration{
			feedExplore:      ttlOrDefault(cfg.ExploreTTL, time.Hour),
			feedPrice:        ttlOrDefault(cfg.PriceTTL, time.Minute),
			feedExchangeRate: ttlOrDefault(cfg.ExchangeRateTTL, 5*time.Minute),
			feedNetwork:      ttlOrDefault(cfg.NetworkTTL, time.Hour),
			feedDex:          ttlOrDefault(cfg.DexDataTTL, 5*time.Minute),
		}),
		pools:       map[string]dex.Exchange{},
		rates:       prices.ExchangeRates{},
		collections: explore.Index{},
		prefs:       Preferences{},
		lastFull:    map[string]time.Time{},
	}
}

func ttlOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// LoadCache hydrates the published account, pool data, prices and
// preferences from the store without touching the network. Missing entries
// leave the corresponding state empty.
func (c *Coordinator) LoadCache(address string) {
	var (
		acc       tezos.Account
		exchanges []dex.Exchange
		pc        priceCache
		prefs     Preferences
	)
	hasAccount := c.store.Read(diskcache.BalanceFile(address), &acc)
	c.store.Read(diskcache.ExchangeDataFile, &exchanges)
	hasPrices := c.store.Read(diskcache.ExchangeRatesFile, &pc)
	c.store.Read(diskcache.TokenPreferencesFile, &prefs)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.account = acc
	c.exchanges = exchanges
	c.pools = dex.Index(exchanges)
	if hasPrices {
		c.xtzPrice = pc.XTZPrice
		c.rates = pc.Rates
	}
	if prefs != nil {
		c.prefs = prefs
	}
	c.logger.Debug("loaded balance cache",
		"address", address,
		"found", hasAccount,
		"pools", len(exchanges),
	)
}

// FetchAllBalancesTokensAndPrices refreshes address according to
// refreshType. Sub-fetches run concurrently and a failing one never stops
// the others; the returned error is the last sub-fetch failure. The account
// becomes current only when isSelected, and is persisted whenever live
// balances were fetched.
//
// Only identical requests share a flight. The shared refresh is detached from
// ctx cancellation so one caller going away does not fail the others.
func (c *Coordinator) FetchAllBalancesTokensAndPrices(ctx context.Context, address string, isSelected bool, refreshType tezos.RefreshType) error {
	key := diskcache.NormalizedKey(address) + "|" + string(refreshType) + "|" + strconv.FormatBool(isSelected)
	detached := context.WithoutCancel(ctx)
	_, err, shared := c.flight.Do(key, func() (any, error) {
		return nil, c.refresh(detached, address, isSelected, refreshType)
	})
	if shared {
		c.metrics.RecordRefreshDeduplicated()
	}
	return err
}

// subFetch collects sub-fetch failures; the last one wins.
type subFetch struct {
	mu      sync.Mutex
	lastErr error
}

func (s *subFetch) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *subFetch) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (c *Coordinator) refresh(ctx context.Context, address string, isSelected bool, refreshType tezos.RefreshType) error {
	start := time.Now()
	requested := refreshType
	if refreshType == tezos.RefreshEverythingIfStale {
		if c.IsCacheStale(address) {
			refreshType = tezos.RefreshEverything
		} else {
			refreshType = tezos.RefreshUseCache
		}
	}

	logger := c.logger.With("address", address, "refresh_type", refreshType)
	logger.DebugContext(ctx, "refresh started", "requested", requested)

	var (
		g       errgroup.Group
		results subFetch
		working tezos.Account
		live    = refreshType != tezos.RefreshUseCache
		fetched bool
	)

	run := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				c.metrics.RecordSubFetchFailure(name)
				logger.WarnContext(ctx, "sub-fetch failed", "fetch", name, "error", err)
				results.fail(fmt.Errorf("%s: %w", name, err))
			}
			return nil
		})
	}

	if live {
		run("balances", func() error {
			acc, err := c.explorer.GetAllBalances(ctx, address)
			if err != nil {
				return err
			}
			working = *acc
			fetched = true
			return nil
		})
		if c.history != nil {
			run("history", func() error {
				_, err := c.history.FetchTransactionGroups(ctx, address)
				return err
			})
		}
		if c.dex != nil {
			c.gated(run, feedDex, refreshType == tezos.RefreshEverything, c.fetchDex(ctx))
		}
	} else {
		c.store.Read(diskcache.BalanceFile(address), &working)
	}

	if c.explore != nil {
		c.gated(run, feedExplore, false, c.fetchExplore(ctx))
	}
	if c.prices != nil {
		c.gated(run, feedPrice, false, c.fetchPrice(ctx))
		c.gated(run, feedExchangeRate, false, c.fetchRates(ctx))
	}
	c.gated(run, feedNetwork, false, c.fetchNetwork(ctx))

	_ = g.Wait()
	err := results.err()

	if live && !fetched {
		// Nothing safe to commit; feeds above were still updated.
		c.metrics.RecordRefresh(string(refreshType), err, metrics.Since(start))
		return err
	}

	if !working.IsEmpty() {
		c.brandCollections(ctx, &working)

		c.mu.Lock()
		c.prefs.apply(&working)
		if isSelected {
			c.account = working
		}
		if refreshType == tezos.RefreshEverything && err == nil {
			c.lastFull[diskcache.NormalizedKey(address)] = c.now()
		}
		total := EstimateTotalXTZ(working, c.pools)
		c.mu.Unlock()

		if live {
			ok := c.store.Write(diskcache.BalanceFile(address), working)
			c.metrics.RecordCacheWrite(diskcache.BalancePrefix, ok)
			if !ok {
				logger.WarnContext(ctx, "failed to persist account")
			}
		}
		c.publishAccount(ctx, working, refreshType, total, err)
	} else if isSelected {
		c.mu.Lock()
		c.account = tezos.Account{}
		c.mu.Unlock()
	}

	c.metrics.RecordRefresh(string(refreshType), err, metrics.Since(start))
	logger.InfoContext(ctx, "refresh completed",
		"tokens", len(working.Tokens),
		"collections", len(working.NFTs),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return err
}

// gated schedules fn under run if feed is due, or unconditionally when
// force is set. A failure releases the claim.
func (c *Coordinator) gated(run func(string, func() error), feed string, force bool, fn func() error) {
	if force {
		c.gate.force(feed)
	} else if !c.gate.claim(feed) {
		c.metrics.RecordFeedSkip(feed)
		return
	}
	run(feed, func() error {
		if err := fn(); err != nil {
			c.gate.release(feed)
			return err
		}
		return nil
	})
}

func (c *Coordinator) fetchDex(ctx context.Context) func() error {
	return func() error {
		exchanges, err := c.dex.GetAllExchangesAndTokens(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.exchanges = exchanges
		c.pools = dex.Index(exchanges)
		c.mu.Unlock()

		ok := c.store.Write(diskcache.ExchangeDataFile, exchanges)
		c.metrics.RecordCacheWrite(diskcache.ExchangeDataFile, ok)
		return nil
	}
}

func (c *Coordinator) fetchExplore(ctx context.Context) func() error {
	return func() error {
		idx, err := c.explore.FetchExplore(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.collections = idx
		c.mu.Unlock()
		return nil
	}
}

func (c *Coordinator) fetchPrice(ctx context.Context) func() error {
	return func() error {
		price, err := c.prices.FetchTezosPrice(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.xtzPrice = price
		c.mu.Unlock()
		c.persistPrices()
		return nil
	}
}

func (c *Coordinator) fetchRates(ctx context.Context) func() error {
	return func() error {
		rates, err := c.prices.FetchExchangeRates(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.rates = rates
		c.mu.Unlock()
		c.persistPrices()
		return nil
	}
}

// persistPrices writes the current price and rates. persistMu spans the
// snapshot and the write so the newest snapshot always lands last.
func (c *Coordinator) persistPrices() {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	pc := priceCache{XTZPrice: c.xtzPrice, Rates: c.rates, UpdatedAt: c.now()}
	c.mu.RUnlock()
	ok := c.store.Write(diskcache.ExchangeRatesFile, pc)
	c.metrics.RecordCacheWrite(diskcache.ExchangeRatesFile, ok)
}

func (c *Coordinator) fetchNetwork(ctx context.Context) func() error {
	return func() error {
		head, err := c.explorer.GetNetworkVersion(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.network = head
		c.mu.Unlock()
		return nil
	}
}

// brandCollections names NFT collections from the curated explore index,
// then asks the explorer for aliases of any still unnamed.
func (c *Coordinator) brandCollections(ctx context.Context, acc *tezos.Account) {
	c.mu.RLock()
	idx := c.collections
	c.mu.RUnlock()

	var unbranded []string
	for i := range acc.NFTs {
		col := &acc.NFTs[i]
		if curated, ok := idx.Lookup(col.ContractAddress); ok {
			if curated.Name != "" {
				col.Name = curated.Name
			}
			if curated.ThumbnailURL != "" {
				col.ThumbnailURL = curated.ThumbnailURL
			}
			if curated.MintingTool != "" {
				col.MintingTool = curated.MintingTool
			}
		}
		if col.Name == "" {
			unbranded = append(unbranded, col.ContractAddress)
		}
	}
	if len(unbranded) == 0 {
		return
	}

	aliases, err := c.explorer.ContractAliases(ctx, unbranded)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to resolve collection names",
			"address", acc.WalletAddress,
			"collections", len(unbranded),
			"error", err,
		)
		return
	}
	for i := range acc.NFTs {
		col := &acc.NFTs[i]
		if col.Name == "" {
			col.Name = aliases[col.ContractAddress]
		}
	}
}

func (c *Coordinator) publishAccount(ctx context.Context, acc tezos.Account, refreshType tezos.RefreshType, total decimal.Decimal, refreshErr error) {
	if c.publisher == nil {
		return
	}
	event := &natspkg.AccountEvent{
		WalletAddress:     acc.WalletAddress,
		RefreshType:       string(refreshType),
		XTZBalance:        acc.XTZBalance.String(),
		EstimatedTotalXTZ: total.String(),
		TokenCount:        len(acc.Tokens),
		NFTCount:          len(acc.NFTs),
		PublishedAt:       c.now(),
	}
	if refreshErr != nil {
		event.Error = refreshErr.Error()
	}
	err := c.publisher.PublishAccount(ctx, event)
	c.metrics.RecordNATSPublish("account", err)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to publish account event",
			"address", acc.WalletAddress,
			"error", err,
		)
	}
}

// IsCacheStale reports whether address has never completed a full refresh
// or its last one is older than the staleness window.
func (c *Coordinator) IsCacheStale(address string) bool {
	c.mu.RLock()
	last, ok := c.lastFull[diskcache.NormalizedKey(address)]
	c.mu.RUnlock()
	return !ok || c.now().Sub(last) > c.staleAfter
}

// DeleteAccountCachedData removes address's snapshot from the store and
// resets the published account if it belongs to address.
func (c *Coordinator) DeleteAccountCachedData(address string) bool {
	key := diskcache.NormalizedKey(address)

	c.mu.Lock()
	if diskcache.NormalizedKey(c.account.WalletAddress) == key {
		c.account = tezos.Account{}
	}
	delete(c.lastFull, key)
	c.mu.Unlock()

	return c.store.Delete(diskcache.BalanceFile(address))
}

// DeleteAllCachedData removes every balance snapshot, pool data and prices
// and resets in-memory state. Token preferences are kept.
func (c *Coordinator) DeleteAllCachedData() bool {
	c.mu.Lock()
	c.account = tezos.Account{}
	c.exchanges = nil
	c.pools = map[string]dex.Exchange{}
	c.xtzPrice = decimal.Zero
	c.rates = prices.ExchangeRates{}
	c.network = nil
	c.collections = explore.Index{}
	c.lastFull = map[string]time.Time{}
	c.mu.Unlock()
	c.gate.reset()

	ok := true
	for _, name := range c.store.AllFileNamesWith(diskcache.BalancePrefix) {
		if name == diskcache.TokenPreferencesFile {
			continue
		}
		if !c.store.Delete(name) {
			ok = false
		}
	}
	return ok
}

// MidPrice is token's pool ratio in XTZ per whole token, or zero without pool data.
func (c *Coordinator) MidPrice(token tezos.Token) decimal.Decimal {
	c.mu.RLock()
	ex, ok := c.pools[token.Key()]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}
	return dex.MidPrice(ex)
}

// DexRate is the XTZ received for selling token's whole balance, or zero
// without pool data.
func (c *Coordinator) DexRate(token tezos.Token) tezos.TokenAmount {
	c.mu.RLock()
	ex, ok := c.pools[token.Key()]
	c.mu.RUnlock()
	if !ok {
		return tezos.ZeroAmount(tezos.XTZDecimals)
	}
	return dex.TokenToXTZRate(ex, token.Balance)
}

// EstimatedTotalXTZ values acc using the current pool data.
func (c *Coordinator) EstimatedTotalXTZ(acc tezos.Account) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return EstimateTotalXTZ(acc, c.pools)
}

// EstimatedTotalFiat values the published account in currency. It reports
// false when the currency is unknown.
func (c *Coordinator) EstimatedTotalFiat(currency string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	usd := EstimateTotalXTZ(c.account, c.pools).Mul(c.xtzPrice)
	return c.rates.Convert(usd, currency)
}

// CurrentAccount returns the published account.
func (c *Coordinator) CurrentAccount() tezos.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAccount(c.account)
}

// Account returns address's snapshot, preferring the published account and
// falling back to the store.
func (c *Coordinator) Account(address string) (tezos.Account, bool) {
	c.mu.RLock()
	if !c.account.IsEmpty() && diskcache.NormalizedKey(c.account.WalletAddress) == diskcache.NormalizedKey(address) {
		acc := cloneAccount(c.account)
		c.mu.RUnlock()
		return acc, true
	}
	c.mu.RUnlock()

	var acc tezos.Account
	if !c.store.Read(diskcache.BalanceFile(address), &acc) {
		return tezos.Account{}, false
	}
	return acc, true
}

// ExchangeRates returns the latest USD-relative fiat rates.
func (c *Coordinator) ExchangeRates() prices.ExchangeRates {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.rates)
}

// XTZPrice returns the latest USD price of one XTZ.
func (c *Coordinator) XTZPrice() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.xtzPrice
}

// NetworkVersion returns the last fetched chain head, if any.
func (c *Coordinator) NetworkVersion() (tzkt.NetworkVersion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.network == nil {
		return tzkt.NetworkVersion{}, false
	}
	return *c.network, true
}

// SetTokenHidden hides or shows the token or NFT identified by key.
func (c *Coordinator) SetTokenHidden(key string, hidden bool) bool {
	return c.updatePreferences(func(p Preferences) { p.setHidden(key, hidden) })
}

// SetTokenFavourite adds key to, or removes it from, the favourites.
func (c *Coordinator) SetTokenFavourite(key string, favourite bool) bool {
	return c.updatePreferences(func(p Preferences) { p.setFavourite(key, favourite) })
}

func (c *Coordinator) updatePreferences(fn func(Preferences)) bool {
	c.mu.Lock()
	fn(c.prefs)
	prefs := maps.Clone(c.prefs)
	var acc tezos.Account
	if !c.account.IsEmpty() {
		c.prefs.apply(&c.account)
		acc = cloneAccount(c.account)
	}
	c.mu.Unlock()

	ok := c.store.Write(diskcache.TokenPreferencesFile, prefs)
	c.metrics.RecordCacheWrite(diskcache.TokenPreferencesFile, ok)
	if !acc.IsEmpty() {
		c.store.Write(diskcache.BalanceFile(acc.WalletAddress), acc)
	}
	return ok
}

func cloneAccount(a tezos.Account) tezos.Account {
	a.Tokens = slices.Clone(a.Tokens)
	a.NFTs = slices.Clone(a.NFTs)
	for i := range a.NFTs {
		a.NFTs[i].NFTs = slices.Clone(a.NFTs[i].NFTs)
	}
	return a
}
