package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-tlsbridge/logger"
)

// DefaultTTL is how long resolved addresses are reused.
const DefaultTTL = 30 * time.Second

// HostResolver looks up the addresses of a host. *net.Resolver satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer resolves host names through a Cache and dials the resulting
// addresses in order until one accepts. IP literals skip the cache.
type Dialer struct {
	base     *net.Dialer
	cache    Cache
	resolver HostResolver
	ttl      time.Duration
	log      logger.Logger
}

// DialerOption customizes a Dialer.
type DialerOption func(*Dialer)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r HostResolver) DialerOption {
	return func(d *Dialer) {
		if r != nil {
			d.resolver = r
		}
	}
}

// WithTTL sets the lifetime of cached entries.
func WithTTL(ttl time.Duration) DialerOption {
	return func(d *Dialer) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithLogger sets the logger for cache and dial diagnostics.
func WithLogger(l logger.Logger) DialerOption {
	return func(d *Dialer) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDialer wraps base with a resolver cache.
//
// Parameters:
//   - base: Dialer used for each address; its socket options apply
//   - cache: Address cache; nil disables caching
//   - opts: Optional resolver, TTL and logger
//
// Returns:
//   - A new *Dialer
func NewDialer(base *net.Dialer, cache Cache, opts ...DialerOption) *Dialer {
	if base == nil {
		base = &net.Dialer{}
	}

	d := &Dialer{
		base:     base,
		cache:    cache,
		resolver: net.DefaultResolver,
		ttl:      DefaultTTL,
		log:      logger.Nop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// DialContext connects to address ("host:port") on network.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	if d.cache == nil || net.ParseIP(host) != nil {
		return d.base.DialContext(ctx, network, address)
	}

	addrs, err := d.cache.Lookup(ctx, host, d.ttl, func(ctx context.Context) ([]string, error) {
		d.log.Debug("resolving host", logger.Field{Key: "host", Value: host})
		return d.resolver.LookupHost(ctx, host)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}

	var errs []error
	for _, addr := range addrs {
		conn, err := d.base.DialContext(ctx, network, net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	// Every cached address failed; the next dial resolves afresh.
	if err := d.cache.Forget(context.Background(), host); err != nil {
		d.log.Warn("failed to drop cached addresses", logger.Field{Key: "host", Value: host}, logger.Err(err))
	}

	return nil, errors.Join(errs...)
}
