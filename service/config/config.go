package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Cache backends.
const (
	CacheBackendDisk     = "disk"
	CacheBackendPostgres = "postgres"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Cache configuration
	CacheBackend string
	CacheDir     string
	DatabaseURL  string

	// NATS configuration
	NATSURL string

	// Upstream services. DEX and explore feeds are disabled when unset.
	TzKTURL       string
	CoinGeckoURL  string
	DexDataURL    string
	ExploreURL    string
	HTTPTimeout   time.Duration
	TzKTRateLimit float64
	HistoryLimit  int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Refresh policy
	RefreshInterval   time.Duration
	AccountStaleAfter time.Duration
	PendingExpiry     time.Duration

	// Shared feed gates
	ExploreTTL      time.Duration
	PriceTTL        time.Duration
	ExchangeRateTTL time.Duration
	NetworkTTL      time.Duration
	DexDataTTL      time.Duration

	// Tracked wallets
	WalletsFile string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Cache configuration
	cfg.CacheBackend = getEnvOrDefault("CACHE_BACKEND", CacheBackendDisk)
	cfg.CacheDir = getEnvOrDefault("CACHE_DIR", "./data/cache")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	switch cfg.CacheBackend {
	case CacheBackendDisk:
	case CacheBackendPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when CACHE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q",
			CacheBackendDisk, CacheBackendPostgres, cfg.CacheBackend))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Upstream services
	cfg.TzKTURL = getEnvOrDefault("TZKT_URL", "https://api.tzkt.io")
	cfg.CoinGeckoURL = getEnvOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3")
	cfg.DexDataURL = os.Getenv("DEX_DATA_URL")
	cfg.ExploreURL = os.Getenv("EXPLORE_URL")

	collect := func(d time.Duration, err error) time.Duration {
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg.HTTPTimeout = collect(parseDuration("HTTP_TIMEOUT", "15s"))

	rateLimit, err := parseFloat("TZKT_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else if rateLimit <= 0 {
		errs = append(errs, fmt.Errorf("TZKT_RATE_LIMIT must be positive, got %v", rateLimit))
	}
	cfg.TzKTRateLimit = rateLimit

	historyLimit, err := parseInt("HISTORY_LIMIT", 50)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.HistoryLimit = historyLimit

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tzwallet-refresh")

	// Refresh policy
	cfg.RefreshInterval = collect(parseDuration("REFRESH_INTERVAL", "60s"))
	cfg.AccountStaleAfter = collect(parseDuration("ACCOUNT_STALE_AFTER", "120s"))
	cfg.PendingExpiry = collect(parseDuration("PENDING_EXPIRY", "2h"))

	// Shared feed gates
	cfg.ExploreTTL = collect(parseDuration("EXPLORE_TTL", "1h"))
	cfg.PriceTTL = collect(parseDuration("PRICE_TTL", "60s"))
	cfg.ExchangeRateTTL = collect(parseDuration("EXCHANGE_RATE_TTL", "5m"))
	cfg.NetworkTTL = collect(parseDuration("NETWORK_TTL", "1h"))
	cfg.DexDataTTL = collect(parseDuration("DEX_DATA_TTL", "5m"))

	cfg.WalletsFile = os.Getenv("WALLETS_FILE")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.CacheBackend == CacheBackendDisk && c.CacheDir == "" {
		errs = append(errs, fmt.Errorf("CacheDir is required for the disk backend"))
	}

	if c.CacheBackend == CacheBackendPostgres && c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required for the postgres backend"))
	}

	if c.TzKTURL == "" {
		errs = append(errs, fmt.Errorf("TzKTURL is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.RefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("RefreshInterval must be at least 1 second"))
	}

	if c.AccountStaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("AccountStaleAfter must be positive"))
	}

	if c.PendingExpiry <= 0 {
		errs = append(errs, fmt.Errorf("PendingExpiry must be positive"))
	}

	if c.HistoryLimit <= 0 || c.HistoryLimit > 10000 {
		errs = append(errs, fmt.Errorf("HistoryLimit must be between 1 and 10000"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
