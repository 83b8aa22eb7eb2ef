// Package cache provides a fixed-size LRU cache keyed by IP address.
package cache

import (
	"container/list"
	"net/netip"
	"sync"
)

// LRU maps addresses to strings and evicts the least recently used entry
// once capacity is reached. A nil *LRU is a valid, always-empty cache.
type LRU struct {
	mu    sync.Mutex
	cap   int
	list  *list.List
	items map[netip.Addr]*list.Element
}

type entry struct {
	key netip.Addr
	val string
}

// New returns a cache holding up to capacity entries. A capacity <= 0
// returns nil, which disables caching.
func New(capacity int) *LRU {
	if capacity <= 0 {
		return nil
	}
	return &LRU{
		cap:   capacity,
		list:  list.New(),
		items: make(map[netip.Addr]*list.Element, capacity),
	}
}

// Get returns the cached value for addr and marks it most recently used.
func (c *LRU) Get(addr netip.Addr) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[addr.Unmap()]; ok {
		c.list.MoveToFront(e)
		return e.Value.(*entry).val, true
	}
	return "", false
}

// Put stores val for addr, evicting the oldest entry when full.
func (c *LRU) Put(addr netip.Addr, val string) {
	if c == nil {
		return
	}
	key := addr.Unmap()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.Value.(*entry).val = val
		c.list.MoveToFront(e)
		return
	}
	if c.list.Len() >= c.cap {
		if old := c.list.Back(); old != nil {
			c.list.Remove(old)
			delete(c.items, old.Value.(*entry).key)
		}
	}
	c.items[key] = c.list.PushFront(&entry{key: key, val: val})
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}
