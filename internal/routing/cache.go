package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/models"
)

// Cache is a tiny in-memory TTL cache for route lookups keyed by the
// coordinate pair.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	route Route
	ts    time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lng, b.Lat, b.Lng)
}

func (c *Cache) Get(a, b models.Coord) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.route, true
}

func (c *Cache) Set(a, b models.Coord, r Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{route: r, ts: time.Now()}
	c.mu.Unlock()
}

// CachingEstimator wraps an Estimator with the TTL cache. Failures are not
// cached; the next call retries the inner estimator.
type CachingEstimator struct {
	Inner Estimator
	Cache *Cache
}

func (c *CachingEstimator) Estimate(ctx context.Context, origin, dest models.Coord) (Route, error) {
	if r, ok := c.Cache.Get(origin, dest); ok {
		return r, nil
	}
	r, err := c.Inner.Estimate(ctx, origin, dest)
	if err != nil {
		return Route{}, err
	}
	c.Cache.Set(origin, dest, r)
	return r, nil
}
