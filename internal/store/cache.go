package store

import (
	"sync"

	"github.com/streamkv/statestore/internal/layout"
)

// cache is a process-local mapping version -> materialized map for one
// store. Inserts are idempotent: the loader and a commit may both populate
// the same version, and either value is equivalent since both replay the
// same committed delta/snapshot chain. Eviction is driven exclusively by
// the maintainer's pruning pass, never by reads.
type cache struct {
	mu   sync.Mutex
	maps map[layout.Version]*Map
}

func newCache() *cache {
	return &cache{maps: make(map[layout.Version]*Map)}
}

func (c *cache) get(v layout.Version) (*Map, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.maps[v]
	return m, ok
}

func (c *cache) put(v layout.Version, m *Map) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maps[v] = m
}

// evictBelow drops every cached version strictly less than horizon.
func (c *cache) evictBelow(horizon layout.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for v := range c.maps {
		if v < horizon {
			delete(c.maps, v)
		}
	}
}

// maxVersion returns the greatest cached version, if any.
func (c *cache) maxVersion() (layout.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var max layout.Version
	found := false
	for v := range c.maps {
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found
}

// size returns the number of cached versions, for introspection.
func (c *cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.maps)
}
