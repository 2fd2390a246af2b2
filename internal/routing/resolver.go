// README: Resolver chains routing providers under a bounded timeout and applies the haversine fallback policy.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campusride/internal/config"
	"campusride/internal/geo"
	"campusride/internal/observability"
	"campusride/internal/types"
)

type Resolver struct {
	providers     []Provider
	timeout       time.Duration
	allowFallback bool
	speedKmh      float64
	cache         *Cache
	logger        *slog.Logger
}

func NewResolver(cfg config.RoutingConfig, cache *Cache, logger *slog.Logger, providers ...Provider) *Resolver {
	return &Resolver{
		providers:     providers,
		timeout:       cfg.Timeout,
		allowFallback: cfg.AllowFallback,
		speedKmh:      cfg.FallbackSpeedKmh,
		cache:         cache,
		logger:        logger,
	}
}

// Route returns the first provider's answer. When every provider fails or
// times out, it returns the haversine estimate if fallback is allowed and
// ErrUnavailable otherwise.
func (r *Resolver) Route(ctx context.Context, from, to types.Point) (Route, error) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(from, to); ok {
			return cached, nil
		}
	}

	start := time.Now()
	var errs []error
	for _, p := range r.providers {
		route, err := r.try(ctx, p, from, to)
		if err == nil {
			observability.RoutingLatency.Observe(time.Since(start).Seconds())
			observability.RoutingRequests.WithLabelValues(string(route.Source)).Inc()
			if r.cache != nil {
				r.cache.Set(from, to, route)
			}
			return route, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	if !r.allowFallback {
		r.logger.Warn("routing_unavailable", "error", errors.Join(errs...))
		observability.RoutingRequests.WithLabelValues("unavailable").Inc()
		return Route{}, fmt.Errorf("%w: %v", ErrUnavailable, errors.Join(errs...))
	}
	r.logger.Warn("routing_fallback", "error", errors.Join(errs...))
	observability.RoutingRequests.WithLabelValues(string(SourceFallback)).Inc()
	return Fallback(from, to, r.speedKmh), nil
}

func (r *Resolver) try(ctx context.Context, p Provider, from, to types.Point) (Route, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.Route(ctx, from, to)
}

// Fallback estimates a route from the great-circle distance and an assumed
// average speed. It carries no geometry.
func Fallback(from, to types.Point, speedKmh float64) Route {
	km := geo.HaversineKm(from, to)
	return Route{
		DistanceKm:  km,
		DurationMin: km / speedKmh * 60,
		Geometry:    [][2]float64{},
		Source:      SourceFallback,
	}
}

// Cache holds measured routes for a short TTL so an estimate followed by a
// request for the same trip measures it once. Fallback routes are never cached.
// A full cache drops expired entries on Set, then the oldest one.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	max   int
	now   func() time.Time
}

type cacheEntry struct {
	route Route
	ts    time.Time
}

func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, max: maxEntries, now: time.Now}
}

func keyFor(a, b types.Point) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", a.Lat, a.Lng, b.Lat, b.Lng)
}

func (c *Cache) Get(a, b types.Point) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.route, true
}

func (c *Cache) Set(a, b types.Point, r Route) {
	if r.Source == SourceFallback {
		return
	}
	k := keyFor(a, b)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[k]; !ok && len(c.store) >= c.max {
		c.evictLocked(now)
	}
	c.store[k] = cacheEntry{route: r, ts: now}
}

func (c *Cache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.store {
		if now.Sub(e.ts) > c.ttl {
			delete(c.store, k)
			continue
		}
		if oldestKey == "" || e.ts.Before(oldest) {
			oldestKey, oldest = k, e.ts
		}
	}
	if len(c.store) >= c.max && oldestKey != "" {
		delete(c.store, oldestKey)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
