package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 10 * time.Second
	waitTimeout = 10 * time.Second
	minBackoff  = 10 * time.Millisecond
	maxBackoff  = 250 * time.Millisecond
)

// releaseLock deletes the lock only while we still own it.
var releaseLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCache is a Cache stored in Redis so several processes share resolved
// addresses. A miss takes a short SETNX lock; other callers poll until the
// owner fills the entry, or take over the lookup once the owner releases the
// lock without a result.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a RedisCache on client.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	cache := resolver.NewRedisCache(client)
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Lookup implements Cache.
func (c *RedisCache) Lookup(ctx context.Context, host string, ttl time.Duration, lookup LookupFunc) ([]string, error) {
	key := cacheKey(host)
	lockKey := key + ":lock"

	for {
		addrs, found, err := c.get(ctx, key)
		if err != nil || found {
			return addrs, err
		}

		token := uuid.NewString()
		acquired, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lookup lock for %s: %w", host, err)
		}
		if acquired {
			return c.fill(ctx, host, key, lockKey, token, ttl, lookup)
		}

		addrs, found, err = c.wait(ctx, key, lockKey)
		if err != nil || found {
			return addrs, err
		}
		// The owner released the lock without storing a result; its failure
		// or cancellation is its own, so try the lookup ourselves.
	}
}

// fill runs lookup while holding the lock and stores a successful result.
func (c *RedisCache) fill(ctx context.Context, host, key, lockKey, token string, ttl time.Duration, lookup LookupFunc) ([]string, error) {
	defer releaseLock.Run(context.WithoutCancel(ctx), c.client, []string{lockKey}, token)

	addrs, err := lookup(ctx)
	if err != nil {
		return nil, err
	}

	data, err := cbor.Marshal(addrs)
	if err != nil {
		return nil, fmt.Errorf("encode addresses for %s: %w", host, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return nil, fmt.Errorf("store addresses for %s: %w", host, err)
	}

	return addrs, nil
}

func (c *RedisCache) get(ctx context.Context, key string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var addrs []string
	if err := cbor.Unmarshal(data, &addrs); err != nil {
		return nil, false, fmt.Errorf("decode cached addresses: %w", err)
	}

	return addrs, true, nil
}

// wait polls with exponential backoff until another caller stores key, its
// lock disappears, or waitTimeout elapses. found is false when the lock went
// away without a stored result.
func (c *RedisCache) wait(ctx context.Context, key, lockKey string) ([]string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	backoff := minBackoff
	for {
		addrs, found, err := c.get(ctx, key)
		if err != nil || found {
			return addrs, found, err
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return nil, false, fmt.Errorf("check lookup lock: %w", err)
		}
		if exists == 0 {
			// One last read covers a store racing the release.
			return c.get(ctx, key)
		}

		select {
		case <-ctx.Done():
			return nil, false, fmt.Errorf("waiting for concurrent lookup: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

// Forget implements Cache.
func (c *RedisCache) Forget(ctx context.Context, host string) error {
	if err := c.client.Del(ctx, cacheKey(host)).Err(); err != nil {
		return fmt.Errorf("forget %s: %w", host, err)
	}
	return nil
}

// Clear implements Cache. Only keys under KeyPrefix are removed.
func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear resolver cache: %w", err)
	}
	return nil
}

// Len implements Cache.
func (c *RedisCache) Len(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx)
	return len(keys), err
}

// keys scans the cached hosts, skipping lock keys.
func (c *RedisCache) keys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); !strings.HasSuffix(k, ":lock") {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan resolver cache: %w", err)
	}

	return keys, nil
}

var _ Cache = (*RedisCache)(nil)
