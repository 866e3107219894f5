package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tzwallet/service/activity"
	"github.com/brojonat/tzwallet/service/balance"
	"github.com/brojonat/tzwallet/service/config"
	"github.com/brojonat/tzwallet/service/metrics"
	"github.com/brojonat/tzwallet/service/temporal"
	"github.com/brojonat/tzwallet/service/wallets"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the wallet service.
type Server struct {
	addr         string
	cfg          *config.Config
	accounts     *balance.Coordinator
	tracker      *activity.Tracker
	registry     *wallets.Registry
	scheduler    temporal.Scheduler
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is optional - if nil, registering a wallet creates no refresh schedule.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(
	addr string,
	cfg *config.Config,
	accounts *balance.Coordinator,
	tracker *activity.Tracker,
	registry *wallets.Registry,
	scheduler temporal.Scheduler,
	ssePublisher *SSEPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:         addr,
		cfg:          cfg,
		accounts:     accounts,
		tracker:      tracker,
		registry:     registry,
		scheduler:    scheduler,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	refreshInterval := 5 * time.Minute
	if s.cfg != nil && s.cfg.RefreshInterval > 0 {
		refreshInterval = s.cfg.RefreshInterval
	}

	// Account routes
	route("GET /api/v1/accounts/{address}", "/api/v1/accounts/{address}",
		handleGetAccount(s.accounts, s.logger))
	route("POST /api/v1/accounts/{address}/refresh", "/api/v1/accounts/{address}/refresh",
		handleRefreshAccount(s.accounts, s.registry, s.logger))
	route("DELETE /api/v1/accounts/{address}/cache", "/api/v1/accounts/{address}/cache",
		handleDeleteAccountCache(s.accounts, s.tracker, s.logger))
	route("DELETE /api/v1/cache", "/api/v1/cache",
		handleDeleteAllCache(s.accounts, s.tracker, s.logger))

	// Activity routes
	route("GET /api/v1/accounts/{address}/transactions", "/api/v1/accounts/{address}/transactions",
		handleListTransactions(s.tracker, s.logger))
	route("POST /api/v1/accounts/{address}/pending", "/api/v1/accounts/{address}/pending",
		handleAddPending(s.tracker, s.logger))
	route("GET /api/v1/pending", "/api/v1/pending",
		handleListPending(s.tracker))

	// Wallet routes
	route("GET /api/v1/wallets", "/api/v1/wallets",
		handleListWallets(s.registry))
	route("POST /api/v1/wallets", "/api/v1/wallets",
		handleRegisterWallet(s.registry, s.scheduler, refreshInterval, s.logger))
	route("DELETE /api/v1/wallets/{address}", "/api/v1/wallets/{address}",
		handleUnregisterWallet(s.registry, s.scheduler, s.accounts, s.tracker, s.logger))
	route("POST /api/v1/wallets/select", "/api/v1/wallets/select",
		handleSelectWallet(s.registry, s.accounts, s.tracker, s.logger))

	// Token preferences
	route("PUT /api/v1/preferences/{key}", "/api/v1/preferences/{key}",
		handleSetPreference(s.accounts, s.logger))

	// SSE streaming endpoint (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/{address}", handleStreamWallet(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
