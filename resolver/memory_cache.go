package resolver

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCache is an in-process Cache on go-cache. Concurrent misses for the
// same host share one lookup through a singleflight group; the shared lookup
// is detached from the caller that started it, so that caller giving up
// does not fail the others.
type MemoryCache struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCache creates an empty MemoryCache.
//
// Parameters:
//   - cleanupInterval: How often expired entries are purged
//
// Returns:
//   - A new *MemoryCache
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

// Lookup implements Cache.
func (c *MemoryCache) Lookup(ctx context.Context, host string, ttl time.Duration, lookup LookupFunc) ([]string, error) {
	key := cacheKey(host)
	if addrs, ok := c.get(key); ok {
		return addrs, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// A caller that raced us may have filled the entry already.
		if addrs, ok := c.get(key); ok {
			return addrs, nil
		}

		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		addrs, err := lookup(lookupCtx)
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, slices.Clone(addrs), ttl)
		return addrs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	}
}

func (c *MemoryCache) get(key string) ([]string, bool) {
	v, found := c.cache.Get(key)
	if !found {
		return nil, false
	}

	addrs, ok := v.([]string)
	return slices.Clone(addrs), ok
}

// Forget implements Cache.
func (c *MemoryCache) Forget(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(cacheKey(host))
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Flush()
	return nil
}

// Len implements Cache.
func (c *MemoryCache) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}

var _ Cache = (*MemoryCache)(nil)
