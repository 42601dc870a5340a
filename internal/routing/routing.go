package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Leg is a routed segment between two coordinates.
type Leg struct {
	Meters  float64
	Seconds float64
}

// Estimator is the interface the matcher and dispatch flow use to get
// road distance and duration between two points.
type Estimator interface {
	Estimate(ctx context.Context, from, to models.Coord) (Leg, error)
}

// StraightLine estimates travel by haversine distance at a constant
// speed. It is both the zero-dependency default and the degradation
// target when a real provider fails.
type StraightLine struct {
	SpeedMps float64
}

func (s StraightLine) Estimate(_ context.Context, from, to models.Coord) (Leg, error) {
	speed := s.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from, to)
	return Leg{Meters: d, Seconds: d / speed}, nil
}

// Fallback wraps a provider and degrades its failures to a straight
// line estimate instead of failing the caller. A routing outage must
// never fail a match.
type Fallback struct {
	Primary  Estimator
	Fallback StraightLine
}

func (f Fallback) Estimate(ctx context.Context, from, to models.Coord) (Leg, error) {
	if f.Primary != nil {
		if leg, err := f.Primary.Estimate(ctx, from, to); err == nil {
			return leg, nil
		}
	}
	return f.Fallback.Estimate(ctx, from, to)
}

// Cache is a tiny in-memory TTL cache for route lookups keyed by the
// coordinate pair, rounded to ~0.1m so nearby fixes share entries.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	leg Leg
	ts  time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lng, b.Lat, b.Lng)
}

func (c *Cache) Get(a, b models.Coord) (Leg, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Leg{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Leg{}, false
	}
	return e.leg, true
}

func (c *Cache) Set(a, b models.Coord, leg Leg) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{leg: leg, ts: time.Now()}
	c.mu.Unlock()
}

// Cached wraps an estimator with the TTL cache.
type Cached struct {
	Inner Estimator
	Cache *Cache
}

func (c Cached) Estimate(ctx context.Context, from, to models.Coord) (Leg, error) {
	if c.Cache != nil {
		if leg, ok := c.Cache.Get(from, to); ok {
			return leg, nil
		}
	}
	leg, err := c.Inner.Estimate(ctx, from, to)
	if err != nil {
		return Leg{}, err
	}
	if c.Cache != nil {
		c.Cache.Set(from, to, leg)
	}
	return leg, nil
}
