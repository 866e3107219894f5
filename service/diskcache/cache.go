// Package diskcache persists wallet state as one JSON document per name.
package diskcache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the key-value persistence used by the balance and activity
// services. Reads of missing entries return false and leave v untouched.
type Store interface {
	Read(name string, v any) bool
	Write(name string, v any) bool
	Delete(name string) bool
	AllFileNamesWith(prefix string) []string
}

// DiskCache stores each entry as <dir>/<name>.json.
type DiskCache struct {
	dir    string
	logger *slog.Logger
}

const fileExt = ".json"

// New creates the cache directory if needed.
func New(dir string, logger *slog.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	return &DiskCache{dir: dir, logger: logger}, nil
}

// Dir returns the cache directory.
func (c *DiskCache) Dir() string {
	return c.dir
}

func (c *DiskCache) path(name string) string {
	return filepath.Join(c.dir, name+fileExt)
}

// Read decodes the named entry into v.
func (c *DiskCache) Read(name string, v any) bool {
	data, err := os.ReadFile(c.path(name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to read cache file", "name", name, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("failed to decode cache file", "name", name, "error", err)
		return false
	}
	return true
}

// Write replaces the named entry. The file is written to a temp file in the
// same directory and renamed over the old one, so readers never observe a
// partial document.
func (c *DiskCache) Write(name string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "name", name, "error", err)
		return false
	}

	tmp, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		c.logger.Warn("failed to create temp cache file", "name", name, "error", err)
		return false
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		c.logger.Warn("failed to write cache file", "name", name, "error", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		c.logger.Warn("failed to close cache file", "name", name, "error", err)
		return false
	}
	if err := os.Rename(tmpName, c.path(name)); err != nil {
		os.Remove(tmpName)
		c.logger.Warn("failed to move cache file into place", "name", name, "error", err)
		return false
	}
	return true
}

// Delete removes the named entry. Deleting a missing entry succeeds.
func (c *DiskCache) Delete(name string) bool {
	err := os.Remove(c.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("failed to delete cache file", "name", name, "error", err)
		return false
	}
	return true
}

// AllFileNamesWith lists entry names starting with prefix, sorted.
func (c *DiskCache) AllFileNamesWith(prefix string) []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("failed to list cache dir", "dir", c.dir, "error", err)
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileExt)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
