// Package resolver performs reverse hostname lookups for remote addresses.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"time"

	"firestige.xyz/hostmon/internal/cache"
)

// ErrNoName is returned when a lookup succeeds but yields no hostname.
var ErrNoName = errors.New("no hostname for address")

// Resolver maps an address to a hostname.
type Resolver interface {
	LookupAddr(ctx context.Context, addr netip.Addr) (string, error)
}

// addrLookuper is the subset of *net.Resolver used by DNS.
type addrLookuper interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// DNS resolves PTR records through the system resolver.
type DNS struct {
	lookup  addrLookuper
	timeout time.Duration
}

// NewDNS returns a DNS resolver. A zero timeout leaves lookups unbounded
// except by the caller's context.
func NewDNS(timeout time.Duration) *DNS {
	return &DNS{
		lookup:  net.DefaultResolver,
		timeout: timeout,
	}
}

// LookupAddr returns the first PTR name for addr without the trailing root dot.
func (d *DNS) LookupAddr(ctx context.Context, addr netip.Addr) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	names, err := d.lookup.LookupAddr(ctx, addr.Unmap().String())
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if name = strings.TrimSuffix(name, "."); name != "" {
			return name, nil
		}
	}
	return "", ErrNoName
}

// Cached wraps a Resolver with an LRU of successful lookups. Failures are
// never cached so transient errors are retried on the next frame.
type Cached struct {
	next  Resolver
	cache *cache.LRU
}

// NewCached wraps next with a cache of size entries. A size <= 0 returns a
// pass-through wrapper.
func NewCached(next Resolver, size int) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(size),
	}
}

func (c *Cached) LookupAddr(ctx context.Context, addr netip.Addr) (string, error) {
	if name, ok := c.cache.Get(addr); ok {
		return name, nil
	}
	name, err := c.next.LookupAddr(ctx, addr)
	if err != nil {
		return "", err
	}
	c.cache.Put(addr, name)
	return name, nil
}

// Len returns the number of cached names.
func (c *Cached) Len() int {
	return c.cache.Len()
}
