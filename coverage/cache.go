package coverage

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ResultCache memoizes coverage results keyed by rule content hash. The
// catalog is immutable between reloads, so entries never go stale until a
// reload, at which point the owner purges the cache.
type ResultCache struct {
	c *lru.Cache[string, *Result]
}

// NewResultCache creates a cache holding up to size results.
func NewResultCache(size int) (*ResultCache, error) {
	c, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{c: c}, nil
}

// Get returns a cached result, or nil when absent.
func (rc *ResultCache) Get(key string) *Result {
	if v, ok := rc.c.Get(key); ok {
		return v
	}
	return nil
}

// Put stores a result.
func (rc *ResultCache) Put(key string, r *Result) {
	rc.c.Add(key, r)
}

// Len returns the number of cached results.
func (rc *ResultCache) Len() int {
	return rc.c.Len()
}

// Purge drops every cached result. Called after a catalog reload.
func (rc *ResultCache) Purge() {
	rc.c.Purge()
}
