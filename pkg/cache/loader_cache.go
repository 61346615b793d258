// Package cache provides a generic loader cache combining a TTL-bounded LRU with
// singleflight to coalesce concurrent loads for the same key.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidSize is returned when the cache is created with a non-positive capacity.
var ErrInvalidSize = errors.New("cache: max entries must be positive")

// LoaderCache loads values on miss via a callback; concurrent misses for one key share a
// single load. Entries expire after the configured TTL. Keys are stored as
// namespace + ":" + keyToString(k).
type LoaderCache[K comparable, V any] struct {
	lru         *expirable.LRU[string, V]
	group       singleflight.Group
	namespace   string
	keyToString func(K) string
}

// NewLoaderCache creates a loader cache with the given namespace, max entries, per-entry TTL and
// key serializer. A zero ttl keeps entries until they are evicted by size.
func NewLoaderCache[K comparable, V any](
	namespace string, maxEntries int, ttl time.Duration, keyToString func(K) string,
) (*LoaderCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, ErrInvalidSize
	}

	return &LoaderCache[K, V]{
		lru:         expirable.NewLRU[string, V](maxEntries, nil, ttl),
		namespace:   namespace,
		keyToString: keyToString,
	}, nil
}

func (c *LoaderCache[K, V]) key(k K) string {
	if c.namespace == "" {
		return c.keyToString(k)
	}

	return c.namespace + ":" + c.keyToString(k)
}

// Get returns the value for key, loading it via load on cache miss.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, error) {
	v, _, err := c.GetWithStats(ctx, key, load)

	return v, err
}

// GetWithStats is like Get and also reports whether the value was served from cache.
// A failed load is returned to every waiter and is not cached. The shared load is detached
// from the caller's cancellation, so load must bound its own duration.
func (c *LoaderCache[K, V]) GetWithStats(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, bool, error) {
	keyStr := c.key(key)
	if v, ok := c.lru.Get(keyStr); ok {
		return v, true, nil
	}

	loadCtx := context.WithoutCancel(ctx)

	val, err, _ := c.group.Do(keyStr, func() (any, error) {
		loaded, loadErr := load(loadCtx, key)
		if loadErr != nil {
			return zero[V](), loadErr
		}

		c.lru.Add(keyStr, loaded)

		return loaded, nil
	})
	if err != nil {
		return zero[V](), false, err
	}

	return val.(V), false, nil
}

// Peek returns the cached value without loading.
func (c *LoaderCache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Get(c.key(key))
}

func zero[V any]() (z V) { return z }

// Invalidate removes the entry for key.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.lru.Remove(c.key(key))
}

// InvalidateAll removes all entries.
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.lru.Purge()
}

// Len returns the number of entries in the cache.
func (c *LoaderCache[K, V]) Len() int {
	return c.lru.Len()
}
