package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/tzwallet/service/activity"
	"github.com/brojonat/tzwallet/service/balance"
	"github.com/brojonat/tzwallet/service/config"
	"github.com/brojonat/tzwallet/service/db"
	"github.com/brojonat/tzwallet/service/dex"
	"github.com/brojonat/tzwallet/service/diskcache"
	"github.com/brojonat/tzwallet/service/explore"
	"github.com/brojonat/tzwallet/service/metrics"
	natspkg "github.com/brojonat/tzwallet/service/nats"
	"github.com/brojonat/tzwallet/service/prices"
	"github.com/brojonat/tzwallet/service/server"
	"github.com/brojonat/tzwallet/service/temporal"
	"github.com/brojonat/tzwallet/service/tzkt"
	"github.com/brojonat/tzwallet/service/upstream"
	"github.com/brojonat/tzwallet/service/wallets"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"cache_backend", cfg.CacheBackend,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open cache store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	registry := wallets.NewRegistry()
	if cfg.WalletsFile != "" {
		registry, err = wallets.LoadFile(cfg.WalletsFile)
		if err != nil {
			logger.Error("failed to load wallets file", "path", cfg.WalletsFile, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded wallets", "path", cfg.WalletsFile, "count", len(registry.All()))
	}

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	explorer := tzkt.NewClient(upstream.New(upstream.Options{
		Service:   "tzkt",
		BaseURL:   cfg.TzKTURL,
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.TzKTRateLimit,
	}, metricsCollector, logger), logger)

	tracker := activity.NewTracker(activity.Config{
		Store:         store,
		Explorer:      explorer,
		Selection:     registry,
		Publisher:     natsPublisher,
		Notifier:      activity.NewEventNotifier(natsPublisher, metricsCollector, logger),
		Metrics:       metricsCollector,
		Logger:        logger,
		PendingExpiry: cfg.PendingExpiry,
		HistoryLimit:  cfg.HistoryLimit,
	})

	accounts := balance.NewCoordinator(coordinatorConfig(cfg, store, explorer, tracker, natsPublisher, metricsCollector, logger))

	if selected := registry.Selected(); selected != "" {
		tracker.LoadCache(selected)
		accounts.LoadCache(selected)
		logger.Info("loaded cached state", "address", selected)
	}

	// Temporal is optional for the server: without it wallets are tracked
	// but never refreshed on a schedule.
	var scheduler temporal.Scheduler
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, refresh schedules disabled", "host", cfg.TemporalHost, "error", err)
	} else {
		defer temporalClient.Close()
		scheduler = temporalClient
	}

	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}
	defer ssePublisher.Close()

	httpServer := server.New(cfg.ServerAddr, cfg, accounts, tracker, registry, scheduler, ssePublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"tzkt_url", cfg.TzKTURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"wallets", len(registry.All()),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// openStore opens the configured cache backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (diskcache.Store, func(), error) {
	if cfg.CacheBackend != config.CacheBackendPostgres {
		store, err := diskcache.New(cfg.CacheDir, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using disk cache", "dir", store.Dir())
		return store, func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pgStore := db.NewStore(pool)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("using postgres cache")
	return db.NewCache(pgStore, cfg.HTTPTimeout, logger), pool.Close, nil
}

// coordinatorConfig wires the balance feeds. The DEX feed is left out when no
// URL is configured; a disabled explore client returns an empty index.
func coordinatorConfig(
	cfg *config.Config,
	store diskcache.Store,
	explorer *tzkt.Client,
	history balance.History,
	publisher natspkg.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) balance.Config {
	newAPI := func(service, baseURL string) *upstream.Client {
		return upstream.New(upstream.Options{
			Service: service,
			BaseURL: baseURL,
			Timeout: cfg.HTTPTimeout,
		}, m, logger)
	}

	bc := balance.Config{
		Store:           store,
		Explorer:        explorer,
		History:         history,
		Prices:          prices.NewClient(newAPI("coingecko", cfg.CoinGeckoURL), logger),
		Explore:         explore.NewClient(newAPI("explore", cfg.ExploreURL), logger),
		Publisher:       publisher,
		Metrics:         m,
		Logger:          logger,
		StaleAfter:      cfg.AccountStaleAfter,
		ExploreTTL:      cfg.ExploreTTL,
		PriceTTL:        cfg.PriceTTL,
		ExchangeRateTTL: cfg.ExchangeRateTTL,
		NetworkTTL:      cfg.NetworkTTL,
		DexDataTTL:      cfg.DexDataTTL,
	}
	if cfg.DexDataURL != "" {
		bc.Dex = dex.NewClient(newAPI("dex", cfg.DexDataURL), logger)
	}
	return bc
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
