package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
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
	"github.com/brojonat/tzwallet/service/temporal"
	"github.com/brojonat/tzwallet/service/tzkt"
	"github.com/brojonat/tzwallet/service/upstream"
	"github.com/brojonat/tzwallet/service/wallets"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

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

	// The workflow fetches history as its own activity, so the coordinator
	// gets no History feed here.
	accounts := balance.NewCoordinator(coordinatorConfig(cfg, store, explorer, natsPublisher, metricsCollector, logger))

	if selected := registry.Selected(); selected != "" {
		tracker.LoadCache(selected)
		accounts.LoadCache(selected)
	}

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		History:           tracker,
		Accounts:          accounts,
		Selection:         registry,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"tzkt_url", cfg.TzKTURL,
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}

// openStore opens the configured cache backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (diskcache.Store, func(), error) {
	if cfg.CacheBackend != config.CacheBackendPostgres {
		store, err := diskcache.New(cfg.CacheDir, logger)
		if err != nil {
			return nil, nil, err
		}
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
	return db.NewCache(pgStore, cfg.HTTPTimeout, logger), pool.Close, nil
}

func coordinatorConfig(
	cfg *config.Config,
	store diskcache.Store,
	explorer *tzkt.Client,
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

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
