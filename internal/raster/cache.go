package raster

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
)

// Cache is a bounded, concurrency-safe LRU of loaded patches keyed by their
// address.
//
// Stored patches are never handed out directly: Get returns a deep copy so
// callers may mutate the result freely. A Cache is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[patch.Address, *Patch]
}

// NewCache returns a cache holding at most size patches.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[patch.Address, *Patch](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create patch cache: %w", err)
	}
	return &Cache{entries: c}, nil
}

// Get returns a copy of the cached patch for addr.
func (c *Cache) Get(addr patch.Address) (*Patch, bool) {
	p, ok := c.entries.Get(addr)
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Add stores a copy of p under addr, evicting the least recently used entry
// when full.
func (c *Cache) Add(addr patch.Address, p *Patch) {
	c.entries.Add(addr, p.Clone())
}

// Evict removes addr from the cache.
func (c *Cache) Evict(addr patch.Address) {
	c.entries.Remove(addr)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Len returns the number of cached patches.
func (c *Cache) Len() int {
	return c.entries.Len()
}
