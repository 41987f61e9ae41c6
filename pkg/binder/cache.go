package binder

import (
	"context"
	"sync"

	"github.com/taigrr/roomview/pkg/material"
)

// Cache is a concurrency-safe store of decoded textures keyed by URL. Cached
// textures are templates: every bind receives its own copy, so disposing a
// bound material never touches the cache.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*cacheEntry
}

type cacheEntry struct {
	tex *material.Texture
	err error // decode or fetch failure, remembered until evicted
}

// NewCache creates an empty texture cache.
func NewCache() *Cache {
	return &Cache{items: make(map[string]*cacheEntry)}
}

// resolve returns a private copy of the texture at url, loading it with load
// on a miss. Failures are cached too; cancellations are not.
func (c *Cache) resolve(ctx context.Context, url string, load func(context.Context) (*material.Texture, error)) (*material.Texture, error) {
	// Fast path: read lock
	c.mu.RLock()
	if e, ok := c.items[url]; ok {
		c.mu.RUnlock()
		return e.copy()
	}
	c.mu.RUnlock()

	// Slow path: fetch and decode without holding the lock
	tex, err := load(ctx)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}

	// Write lock with double-check
	c.mu.Lock()
	e, ok := c.items[url]
	if !ok {
		e = &cacheEntry{tex: tex, err: err}
		c.items[url] = e
	}
	c.mu.Unlock()
	if ok {
		// Another load won the race.
		tex.Dispose()
	}
	return e.copy()
}

func (e *cacheEntry) copy() (*material.Texture, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.tex.Copy(), nil
}

// Evict forgets url so the next bind fetches it again.
func (c *Cache) Evict(url string) {
	c.mu.Lock()
	delete(c.items, url)
	c.mu.Unlock()
}

// Len returns the number of cached entries, failures included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
