package features

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
)

// Cache stores one Vector per candidate key. A missing key is reported as
// ok == false, never as an error.
type Cache interface {
	Get(ctx context.Context, key string) (v Vector, ok bool, err error)
	Put(ctx context.Context, key string, v Vector) error
	Close() error
}

// CacheKey identifies a candidate by track file name and boundaries: the
// first 16 hex characters of the MD5 of "name_start_end".
func CacheKey(trackPath string, start, end int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d_%d", filepath.Base(trackPath), start, end)))
	return hex.EncodeToString(sum[:])[:16]
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Vector
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Vector)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Vector, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, v Vector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) Close() error { return nil }

// nopCache never hits and discards writes.
type nopCache struct{}

func (nopCache) Get(context.Context, string) (Vector, bool, error) { return Vector{}, false, nil }
func (nopCache) Put(context.Context, string, Vector) error         { return nil }
func (nopCache) Close() error                                      { return nil }

// NopCache returns a Cache that never hits and discards writes.
func NopCache() Cache { return nopCache{} }
