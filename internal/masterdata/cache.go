package masterdata

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogCache caches material name lookups in Redis. Entries are keyed by the
// folded name so the cache follows the same case-insensitive semantics as the
// catalog lookup. Reads for the same name are collapsed through singleflight.
type CatalogCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCatalogCache constructs CatalogCache.
func NewCatalogCache(client *redis.Client, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CatalogCache{client: client, ttl: ttl}
}

func cacheKey(name string) string {
	return "masterdata:material:" + strings.ToLower(strings.TrimSpace(name))
}

// Get returns the cached entry for name, if present.
func (c *CatalogCache) Get(ctx context.Context, name string) (Material, bool) {
	if c == nil || c.client == nil {
		return Material{}, false
	}
	key := cacheKey(name)
	raw, err, _ := c.group.Do(key, func() (any, error) {
		return c.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		return Material{}, false
	}
	var material Material
	if err := json.Unmarshal(raw.([]byte), &material); err != nil {
		return Material{}, false
	}
	return material, true
}

// Put stores the entry for name.
func (c *CatalogCache) Put(ctx context.Context, name string, material Material) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(material)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(name), data, c.ttl).Err()
}

// Invalidate drops the cached entry for name.
func (c *CatalogCache) Invalidate(ctx context.Context, name string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, cacheKey(name)).Err()
}
