package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StoreInterface is the subset of Store the cache adapter needs.
type StoreInterface interface {
	GetEntry(ctx context.Context, name string) (*Entry, error)
	PutEntry(ctx context.Context, name string, data []byte) error
	DeleteEntry(ctx context.Context, name string) error
	ListNames(ctx context.Context, prefix string) ([]string, error)
}

// Cache adapts a Store to the boolean key-value contract the wallet
// services persist through. Each call is bounded by timeout.
type Cache struct {
	store   StoreInterface
	timeout time.Duration
	logger  *slog.Logger
}

// NewCache wraps store. A zero timeout defaults to five seconds.
func NewCache(store StoreInterface, timeout time.Duration, logger *slog.Logger) *Cache {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, timeout: timeout, logger: logger}
}

func (c *Cache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *Cache) Read(name string, v any) bool {
	ctx, cancel := c.ctx()
	defer cancel()

	entry, err := c.store.GetEntry(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("failed to read cache entry", "name", name, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(entry.Data, v); err != nil {
		c.logger.Warn("failed to decode cache entry", "name", name, "error", err)
		return false
	}
	return true
}

func (c *Cache) Write(name string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "name", name, "error", err)
		return false
	}

	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.store.PutEntry(ctx, name, data); err != nil {
		c.logger.Warn("failed to write cache entry", "name", name, "error", err)
		return false
	}
	return true
}

func (c *Cache) Delete(name string) bool {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.store.DeleteEntry(ctx, name); err != nil {
		c.logger.Warn("failed to delete cache entry", "name", name, "error", err)
		return false
	}
	return true
}

func (c *Cache) AllFileNamesWith(prefix string) []string {
	ctx, cancel := c.ctx()
	defer cancel()
	names, err := c.store.ListNames(ctx, prefix)
	if err != nil {
		c.logger.Warn("failed to list cache entries", "prefix", prefix, "error", err)
		return nil
	}
	return names
}
