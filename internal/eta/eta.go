// Package eta estimates nurse travel time to a patient. The naive
// distance/speed estimator is the default; a routing client (OSRM) can be
// plugged in, with a small TTL cache in front of it to keep matching fast
// under repeated lookups for the same pair.
package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/nurse-dispatch/internal/geo"
	"github.com/example/nurse-dispatch/internal/models"
)

// Client is the interface matching uses to get travel-time estimates.
type Client interface {
	EstimateSeconds(from, to models.Coordinate) (float64, error)
}

// EstimateSeconds is the fallback estimator: great-circle distance over a
// flat travel speed.
func EstimateSeconds(from, to models.Coordinate, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h, conservative urban default
	}
	return geo.DistanceKm(from, to) * 1000 / speedMps
}

// Cache is a tiny in-memory TTL cache for estimates keyed by coordinate pair.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(a, b models.Coordinate) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coordinate, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

func keyFor(a, b models.Coordinate) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
