// Package cache memoizes per-address entity lists read from the ledger.
//
// Entries live until explicitly invalidated or evicted as least recently
// used. After a successful mint to an address the caller must Invalidate
// that address before trusting Get again.
package cache

import (
	"github.com/ethereum/go-ethereum/common/lru"

	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/observability"
)

// DefaultCapacity bounds the number of addresses a cache remembers.
const DefaultCapacity = 1024

// Cache maps a normalized address to a list of T. It is safe for concurrent
// use; lru.Cache serializes every access.
type Cache[T any] struct {
	name    string
	entries *lru.Cache[string, []T]
}

// New creates an empty cache holding up to DefaultCapacity addresses. name
// labels its metrics.
func New[T any](name string) *Cache[T] {
	return NewWithCapacity[T](name, DefaultCapacity)
}

// NewWithCapacity creates an empty cache holding up to capacity addresses.
func NewWithCapacity[T any](name string, capacity int) *Cache[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[T]{
		name:    name,
		entries: lru.NewCache[string, []T](capacity),
	}
}

// Get returns a copy of the cached list for address.
func (c *Cache[T]) Get(address string) ([]T, bool) {
	list, ok := c.entries.Get(domain.NormalizeAddress(address))
	if !ok {
		observability.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		return nil, false
	}
	observability.CacheLookups.WithLabelValues(c.name, "hit").Inc()
	return append([]T{}, list...), true
}

// Set stores a copy of list for address, evicting the least recently used
// address when full.
func (c *Cache[T]) Set(address string, list []T) {
	if evicted := c.entries.Add(domain.NormalizeAddress(address), append([]T{}, list...)); evicted {
		observability.CacheEvictions.WithLabelValues(c.name).Inc()
	}
}

// Invalidate drops the entry for address.
func (c *Cache[T]) Invalidate(address string) {
	c.entries.Remove(domain.NormalizeAddress(address))
	observability.CacheInvalidations.WithLabelValues(c.name).Inc()
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.entries.Purge()
}

// Len returns the number of cached addresses.
func (c *Cache[T]) Len() int {
	return c.entries.Len()
}

// Lookup returns the cached list, or ErrCacheMiss.
func (c *Cache[T]) Lookup(address string) ([]T, error) {
	if list, ok := c.Get(address); ok {
		return list, nil
	}
	return nil, domain.ErrCacheMiss
}
