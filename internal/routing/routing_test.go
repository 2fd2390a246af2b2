package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/config"
	"campusride/internal/geo"
	"campusride/internal/logging"
	"campusride/internal/types"
)

var (
	campusGate = types.Point{Lat: 25.0174, Lng: 121.5398}
	trainSta   = types.Point{Lat: 25.0478, Lng: 121.5170}
)

type stubProvider struct {
	route Route
	err   error
	block bool
	calls atomic.Int32
}

func (s *stubProvider) Route(ctx context.Context, _, _ types.Point) (Route, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return Route{}, ctx.Err()
	}
	return s.route, s.err
}

func testConfig(allowFallback bool) config.RoutingConfig {
	return config.RoutingConfig{Timeout: 50 * time.Millisecond, AllowFallback: allowFallback, FallbackSpeedKmh: 30}
}

func TestOSRMProvider_ParsesRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/route/v1/driving/121.539800,25.017400;121.517000,25.047800"))
		assert.Equal(t, "full", r.URL.Query().Get("overview"))
		assert.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":4200,"duration":630,
			"geometry":{"coordinates":[[121.5398,25.0174],[121.517,25.0478]]}}]}`))
	}))
	defer srv.Close()

	route, err := NewOSRMProvider(srv.URL+"/", srv.Client()).Route(context.Background(), campusGate, trainSta)
	require.NoError(t, err)
	assert.InDelta(t, 4.2, route.DistanceKm, 1e-9)
	assert.InDelta(t, 10.5, route.DurationMin, 1e-9)
	assert.Equal(t, SourceOSRM, route.Source)
	assert.Len(t, route.Geometry, 2)
}

func TestOSRMProvider_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	_, err := NewOSRMProvider(srv.URL, nil).Route(context.Background(), campusGate, trainSta)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestResolver_UsesFirstHealthyProvider(t *testing.T) {
	broken := &stubProvider{err: errors.New("boom")}
	healthy := &stubProvider{route: Route{DistanceKm: 3, DurationMin: 7, Source: SourceGoogle}}

	r := NewResolver(testConfig(false), nil, logging.Discard(), broken, healthy)
	route, err := r.Route(context.Background(), campusGate, trainSta)

	require.NoError(t, err)
	assert.Equal(t, SourceGoogle, route.Source)
	assert.EqualValues(t, 1, broken.calls.Load())
}

func TestResolver_FallbackWhenPermitted(t *testing.T) {
	slow := &stubProvider{block: true}
	r := NewResolver(testConfig(true), nil, logging.Discard(), slow)

	route, err := r.Route(context.Background(), campusGate, trainSta)
	require.NoError(t, err)

	km := geo.HaversineKm(campusGate, trainSta)
	assert.Equal(t, SourceFallback, route.Source)
	assert.InDelta(t, km, route.DistanceKm, 1e-9)
	assert.InDelta(t, km/30*60, route.DurationMin, 1e-9)
	assert.Empty(t, route.Geometry)
}

func TestResolver_FailsClosedWithoutFallback(t *testing.T) {
	r := NewResolver(testConfig(false), nil, logging.Discard(), &stubProvider{err: errors.New("down")})

	_, err := r.Route(context.Background(), campusGate, trainSta)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolver_CachesMeasuredRoutesOnly(t *testing.T) {
	p := &stubProvider{route: Route{DistanceKm: 3, DurationMin: 7, Source: SourceOSRM}}
	r := NewResolver(testConfig(false), NewCache(time.Minute, 16), logging.Discard(), p)

	for i := 0; i < 3; i++ {
		_, err := r.Route(context.Background(), campusGate, trainSta)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, p.calls.Load())

	c := NewCache(time.Minute, 16)
	c.Set(campusGate, trainSta, Fallback(campusGate, trainSta, 30))
	_, ok := c.Get(campusGate, trainSta)
	assert.False(t, ok)
}

func TestCache_Expires(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute, 16)
	c.now = func() time.Time { return now }

	c.Set(campusGate, trainSta, Route{DistanceKm: 1, Source: SourceOSRM})
	_, ok := c.Get(campusGate, trainSta)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(campusGate, trainSta)
	assert.False(t, ok)
}

func TestCache_FullCacheDropsExpiredThenOldest(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute, 3)
	c.now = func() time.Time { return now }
	east := func(i int) types.Point { return types.Point{Lat: campusGate.Lat, Lng: campusGate.Lng + float64(i)*0.01} }
	measured := Route{DistanceKm: 1, Source: SourceOSRM}

	c.Set(campusGate, east(1), measured)
	c.Set(campusGate, east(2), measured)
	now = now.Add(2 * time.Minute)
	c.Set(campusGate, east(3), measured)
	assert.Equal(t, 3, c.Len())

	// Both stale entries go, never read again.
	now = now.Add(time.Second)
	c.Set(campusGate, east(4), measured)
	assert.Equal(t, 2, c.Len())

	now = now.Add(time.Second)
	c.Set(campusGate, east(5), measured)
	now = now.Add(time.Second)
	c.Set(campusGate, east(6), measured)
	assert.Equal(t, 3, c.Len())
	_, ok := c.Get(campusGate, east(3))
	assert.False(t, ok, "oldest live entry is evicted when full")
	_, ok = c.Get(campusGate, east(6))
	assert.True(t, ok)
}
