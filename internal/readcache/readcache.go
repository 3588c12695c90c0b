// Package readcache is the Response Cache for Read-Only Paths (§4.9): a
// small LRU cache keyed by method and full URL, used exclusively for
// configured cacheable GETs that bypass load balancing and lifecycle
// feedback entirely. Each provider cacheable-path pattern carries its own
// TTL in seconds, so entries carry their own expiry rather than relying on
// one cache-wide TTL; expiry is checked lazily on Get.
package readcache

import (
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCapacity bounds the cache at a small, fixed size per §4.9.
const defaultCapacity = 100

// Entry is a cached upstream response.
type Entry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	ExpiresAt  time.Time
}

// Cache is a per-process, capacity-bounded LRU of Entries with per-entry
// expiry checked lazily on access.
type Cache struct {
	lru *lru.Cache[string, Entry]
}

// New constructs a Cache. Capacity defaults to 100 when capacity <= 0.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, err := lru.New[string, Entry](capacity)
	if err != nil {
		// Only returned for capacity <= 0, which is excluded above.
		panic(err)
	}
	return &Cache{lru: c}
}

// Key builds the cache key for method and the full URL (path plus query).
func Key(method, fullURL string) string {
	return method + " " + fullURL
}

// Get returns the cached entry for key, if present and not yet expired. An
// expired entry is evicted on the read that discovers it.
func (c *Cache) Get(key string) (Entry, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.lru.Remove(key)
		return Entry{}, false
	}
	return entry, true
}

// Set stores entry under key with the given TTL, evicting the oldest entry
// if the cache is at capacity.
func (c *Cache) Set(key string, entry Entry, ttl time.Duration) {
	entry.ExpiresAt = time.Now().UTC().Add(ttl)
	c.lru.Add(key, entry)
}

// Len reports the number of entries currently cached (including any not yet
// lazily evicted past their TTL).
func (c *Cache) Len() int {
	return c.lru.Len()
}
