package invalidation

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCacheHandler is a reference CacheHandler backed by an LRU cache.
// Hosts that keep per-file analysis results in memory can use it directly
// instead of writing their own handler.
type MemoryCacheHandler[V any] struct {
	name  string
	cache *lru.Cache[string, V]
}

// NewMemoryCacheHandler creates an LRU handler with the given capacity.
func NewMemoryCacheHandler[V any](name string, size int) (*MemoryCacheHandler[V], error) {
	cache, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCacheHandler[V]{name: name, cache: cache}, nil
}

// Name implements CacheHandler.
func (h *MemoryCacheHandler[V]) Name() string { return h.name }

// ClearCache implements CacheHandler. Removing an absent key is a no-op.
func (h *MemoryCacheHandler[V]) ClearCache(key string) error {
	h.cache.Remove(key)
	return nil
}

// Get returns the cached value for a file path.
func (h *MemoryCacheHandler[V]) Get(key string) (V, bool) {
	return h.cache.Get(key)
}

// Put stores a value for a file path.
func (h *MemoryCacheHandler[V]) Put(key string, value V) {
	h.cache.Add(key, value)
}

// Len returns the number of cached entries.
func (h *MemoryCacheHandler[V]) Len() int {
	return h.cache.Len()
}
