// Package depcache tracks rasters produced as byproducts of mosaicking so
// they can be reused while any composite output still depends on them.
//
// The cache does not own entries exclusively: each entry carries a reference
// count of live composites depending on it. A composite retains its source
// keys when it is built and releases them from its on-destroy hook, which
// triggers a sweep. Sweeps are idempotent and safe to interleave with
// lookups; a stale entry is only wasted memory, never a correctness problem.
package depcache

import "sync"

type entry[V any] struct {
	value V
	refs  int
}

type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V])}
}

// Put inserts a value with zero references and returns it. If the key is
// already present the existing value wins, so concurrent producers of the
// same tile converge on one raster.
func (c *Cache[K, V]) Put(k K, v V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		return e.value
	}
	c.entries[k] = &entry[V]{value: v}
	return v
}

func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Retain marks the key as depended upon by one more live composite.
func (c *Cache[K, V]) Retain(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		e.refs++
	}
}

// Release drops one reference from each key. Callers pair every Retain with
// exactly one Release, normally via a composite's on-destroy hook.
func (c *Cache[K, V]) Release(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok && e.refs > 0 {
			e.refs--
		}
	}
}

// Clean removes entries no longer referenced by any live composite.
func (c *Cache[K, V]) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.refs == 0 {
			delete(c.entries, k)
		}
	}
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
