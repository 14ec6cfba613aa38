package memory

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DocumentCache keeps recently loaded full documents in memory, keyed by path.
type DocumentCache struct {
	cache *cache.Cache
}

func NewDocumentCache(ttl time.Duration) *DocumentCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	// purge expired items every other TTL
	return &DocumentCache{
		cache: cache.New(ttl, 2*ttl),
	}
}

func (r *DocumentCache) Save(path, content string) {
	r.cache.Set(path, content, cache.DefaultExpiration)
}

func (r *DocumentCache) Get(path string) (string, bool) {
	if x, found := r.cache.Get(path); found {
		return x.(string), true
	}
	return "", false
}

func (r *DocumentCache) Delete(path string) {
	r.cache.Delete(path)
}
