// Package geoip annotates remote addresses with ISO country codes from a
// MaxMind database.
package geoip

import (
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"firestige.xyz/hostmon/internal/cache"
)

const defaultCacheSize = 65536

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// Lookup resolves country codes with an LRU in front of the database.
// A nil *Lookup always answers "".
type Lookup struct {
	mu    sync.RWMutex
	db    countryReader
	cache *cache.LRU
}

// Open opens the GeoLite2/GeoIP2 Country database at path. If cacheSize <= 0
// a default of 65536 entries is used.
func Open(path string, cacheSize int) (*Lookup, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	slog.Debug("opening GeoIP database", "path", path, "cache_size", cacheSize)
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	slog.Info("GeoIP database opened", "path", path)
	return newLookup(db, cacheSize), nil
}

func newLookup(db countryReader, cacheSize int) *Lookup {
	return &Lookup{
		db:    db,
		cache: cache.New(cacheSize),
	}
}

// Country returns the ISO code for addr, or "" when unknown. Misses are
// cached as well.
func (l *Lookup) Country(addr netip.Addr) string {
	if l == nil {
		return ""
	}
	if cc, ok := l.cache.Get(addr); ok {
		return cc
	}

	l.mu.RLock()
	db := l.db
	l.mu.RUnlock()
	if db == nil {
		return ""
	}

	record, err := db.Country(net.IP(addr.AsSlice()))
	if err != nil {
		slog.Warn("GeoIP country lookup failed", "ip", addr.String(), "error", err)
		l.cache.Put(addr, "")
		return ""
	}
	cc := record.Country.IsoCode
	l.cache.Put(addr, cc)
	return cc
}

// Close releases the database. Safe to call more than once.
func (l *Lookup) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
