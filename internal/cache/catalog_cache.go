package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"look-marketplace/internal/models"
)

const (
	keyPrefix = "catalog:list:"

	// maxLocalEntries bounds the in-process map
	maxLocalEntries = 1024
)

// PageLoader loads a catalog page from the database on a cache miss
type PageLoader func(ctx context.Context, params models.ProductListParams) (*models.ProductPage, error)

type localEntry struct {
	page      []byte
	expiresAt time.Time
}

// CatalogCache caches catalog pages. It is backed by Redis when a client is
// given and by an in-process map otherwise. Each instance is independent.
type CatalogCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time

	mu        sync.RWMutex
	local     map[string]localEntry
	nextSweep time.Time
}

// NewCatalogCache creates a catalog cache. client may be nil.
func NewCatalogCache(client *redis.Client, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CatalogCache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		local:  make(map[string]localEntry),
	}
}

// cacheKey scopes the key by brand so a brand's pages can be dropped together
func (c *CatalogCache) cacheKey(params models.ProductListParams) string {
	scope := "all"
	if params.BrandID != nil {
		scope = strconv.FormatInt(*params.BrandID, 10)
	}
	data, _ := json.Marshal(params)
	sum := md5.Sum(data)
	return keyPrefix + scope + ":" + hex.EncodeToString(sum[:])
}

// GetOrLoad returns the cached page for params or loads and stores it.
// Concurrent misses for the same key share one load.
func (c *CatalogCache) GetOrLoad(ctx context.Context, params models.ProductListParams, load PageLoader) (*models.ProductPage, error) {
	key := c.cacheKey(params)

	if data, ok := c.get(ctx, key); ok {
		var page models.ProductPage
		if err := json.Unmarshal(data, &page); err == nil {
			return &page, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		page, err := load(ctx, params)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(page); err == nil {
			c.set(ctx, key, data)
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ProductPage), nil
}

func (c *CatalogCache) get(ctx context.Context, key string) ([]byte, bool) {
	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			return nil, false
		}
		return data, true
	}

	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if current, ok := c.local[key]; ok && !c.now().Before(current.expiresAt) {
			delete(c.local, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.page, true
}

func (c *CatalogCache) set(ctx context.Context, key string, data []byte) {
	if c.client != nil {
		_ = c.client.Set(ctx, key, data, c.ttl).Err()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !now.Before(c.nextSweep) {
		c.sweepLocked(now)
		c.nextSweep = now.Add(c.ttl)
	}
	if _, exists := c.local[key]; !exists && len(c.local) >= maxLocalEntries {
		c.sweepLocked(now)
		if len(c.local) >= maxLocalEntries {
			c.evictOldestLocked()
		}
	}
	c.local[key] = localEntry{page: data, expiresAt: now.Add(c.ttl)}
}

// sweepLocked drops expired entries. c.mu must be held.
func (c *CatalogCache) sweepLocked(now time.Time) {
	for key, entry := range c.local {
		if !now.Before(entry.expiresAt) {
			delete(c.local, key)
		}
	}
}

func (c *CatalogCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.local {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.expiresAt
		}
	}
	delete(c.local, oldestKey)
}

// InvalidateBrand drops the brand's cached pages and the unscoped pages that
// may list its products
func (c *CatalogCache) InvalidateBrand(ctx context.Context, brandID int64) error {
	prefixes := []string{
		fmt.Sprintf("%s%d:", keyPrefix, brandID),
		keyPrefix + "all:",
	}

	if c.client == nil {
		c.mu.Lock()
		for key := range c.local {
			for _, p := range prefixes {
				if strings.HasPrefix(key, p) {
					delete(c.local, key)
				}
			}
		}
		c.mu.Unlock()
		return nil
	}

	var errs []error
	for _, p := range prefixes {
		if err := c.deleteMatching(ctx, p+"*"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *CatalogCache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// IsDistributed reports whether pages are shared through Redis
func (c *CatalogCache) IsDistributed() bool {
	return c.client != nil
}
