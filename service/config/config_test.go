package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so ambient settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL",
		"CACHE_BACKEND", "CACHE_DIR", "DATABASE_URL",
		"NATS_URL", "TZKT_URL", "COINGECKO_URL", "DEX_DATA_URL", "EXPLORE_URL",
		"HTTP_TIMEOUT", "TZKT_RATE_LIMIT", "HISTORY_LIMIT",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"REFRESH_INTERVAL", "ACCOUNT_STALE_AFTER", "PENDING_EXPIRY",
		"EXPLORE_TTL", "PRICE_TTL", "EXCHANGE_RATE_TTL", "NETWORK_TTL", "DEX_DATA_TTL",
		"WALLETS_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, CacheBackendDisk, cfg.CacheBackend)
	assert.Equal(t, "https://api.tzkt.io", cfg.TzKTURL)
	assert.Empty(t, cfg.DexDataURL)
	assert.Equal(t, 120*time.Second, cfg.AccountStaleAfter)
	assert.Equal(t, 2*time.Hour, cfg.PendingExpiry)
	assert.Equal(t, 60*time.Second, cfg.PriceTTL)
	assert.Equal(t, 10.0, cfg.TzKTRateLimit)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, "tzwallet-refresh", cfg.TemporalTaskQueue)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CACHE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("NATS_URL", "nats://nats.example.com:4222")
	t.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	t.Setenv("PENDING_EXPIRY", "30m")
	t.Setenv("TZKT_RATE_LIMIT", "2.5")
	t.Setenv("WALLETS_FILE", "wallets.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, CacheBackendPostgres, cfg.CacheBackend)
	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, 30*time.Minute, cfg.PendingExpiry)
	assert.Equal(t, 2.5, cfg.TzKTRateLimit)
	assert.Equal(t, "wallets.yaml", cfg.WalletsFile)
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "postgres")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_AccumulatesErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "s3")
	t.Setenv("PENDING_EXPIRY", "soon")
	t.Setenv("TZKT_RATE_LIMIT", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_BACKEND must be")
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "TZKT_RATE_LIMIT must be positive")
}

func TestLoad_InvalidInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTORY_LIMIT", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CacheBackend:      CacheBackendDisk,
			CacheDir:          "/tmp/cache",
			TzKTURL:           "https://api.tzkt.io",
			TemporalTaskQueue: "q",
			RefreshInterval:   time.Minute,
			AccountStaleAfter: 2 * time.Minute,
			PendingExpiry:     2 * time.Hour,
			HistoryLimit:      50,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"postgres without url", func(c *Config) { c.CacheBackend = CacheBackendPostgres }, "DatabaseURL is required"},
		{"short refresh", func(c *Config) { c.RefreshInterval = 100 * time.Millisecond }, "at least 1 second"},
		{"zero expiry", func(c *Config) { c.PendingExpiry = 0 }, "PendingExpiry must be positive"},
		{"history limit", func(c *Config) { c.HistoryLimit = 0 }, "HistoryLimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	clearEnv(t)
	t.Setenv("REFRESH_INTERVAL", "never")

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	clearEnv(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
