package wevt

import (
	"sync"

	"wevt_dumper/internal/maps"
)

// PublisherCache memoizes decoded publisher metadata by publisher name. It is
// safe for concurrent use; concurrent lookups of one name decode it once.
// Failed lookups are not cached.
type PublisherCache struct {
	c       *Client
	entries maps.ConcurrentMap[string, *cacheEntry]
}

type cacheEntry struct {
	once sync.Once
	md   *PublisherMetadata
	err  error
}

// NewPublisherCache returns an empty cache on the given map backend.
func (c *Client) NewPublisherCache(backend maps.Backend) *PublisherCache {
	return &PublisherCache{
		c:       c,
		entries: maps.NewConcurrentMap[string, *cacheEntry](backend),
	}
}

// Get returns the metadata of the named publisher, decoding it on first use.
func (pc *PublisherCache) Get(name string) (*PublisherMetadata, error) {
	e, loaded := pc.entries.LoadOrStore(name, func() *cacheEntry { return &cacheEntry{} })
	pc.c.metrics.CacheLookup(loaded)

	e.once.Do(func() {
		e.md, e.err = pc.c.PublisherMetadata(name)
	})
	if e.err != nil {
		pc.entries.Update(name, func(cur *cacheEntry, exists bool) (*cacheEntry, bool) {
			return cur, exists && cur != e
		})
	}
	return e.md, e.err
}

// Invalidate drops the cached metadata of one publisher.
func (pc *PublisherCache) Invalidate(name string) bool {
	_, ok := pc.entries.LoadAndDelete(name)
	return ok
}

// Len returns the number of cached publishers.
func (pc *PublisherCache) Len() int { return pc.entries.Len() }

// Names returns the cached publisher names.
func (pc *PublisherCache) Names() []string {
	var names []string
	pc.entries.Range(func(name string, _ *cacheEntry) bool {
		names = append(names, name)
		return true
	})
	return names
}
