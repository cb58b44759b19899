// Package resolver provides a caching Dialer: host names are looked up once
// and their addresses reused for a configurable TTL, either in process memory
// or in a Redis instance shared by several bridge processes.
package resolver

import (
	"context"
	"time"
)

// KeyPrefix namespaces every cache entry written by this package.
const KeyPrefix = "tlsbridge:dns:"

// lookupTimeout bounds a lookup that runs on behalf of several callers and
// therefore cannot follow any one caller's context.
const lookupTimeout = 10 * time.Second

// LookupFunc resolves a host when the cache misses.
type LookupFunc func(ctx context.Context) ([]string, error)

// Cache stores resolved addresses per host. Implementations must be safe for
// concurrent use and must run at most one lookup per host at a time.
type Cache interface {
	// Lookup returns the cached addresses for host, or calls lookup, caches a
	// successful result for ttl and returns it. Failed lookups are not cached.
	// Cancelling ctx abandons only this caller's wait; other callers waiting
	// on the same host are unaffected.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - host: Host name to resolve
	//   - ttl: Lifetime of a fresh entry
	//   - lookup: Resolver called on a miss
	//
	// Returns:
	//   - The host's addresses
	//   - An error if the cache or the lookup failed
	Lookup(ctx context.Context, host string, ttl time.Duration, lookup LookupFunc) ([]string, error)

	// Forget drops the entry for host.
	Forget(ctx context.Context, host string) error

	// Clear drops every entry written by this package.
	Clear(ctx context.Context) error

	// Len returns the number of cached hosts.
	Len(ctx context.Context) (int, error)
}

func cacheKey(host string) string {
	return KeyPrefix + host
}
