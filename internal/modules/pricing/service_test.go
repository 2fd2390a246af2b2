package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/types"
)

type stubStore struct {
	settings Settings
	routes   []FixedRoute
	err      error
	reads    int
}

func (s *stubStore) GetSettings(context.Context) (Settings, error) {
	s.reads++
	return s.settings, s.err
}

func (s *stubStore) SaveSettings(_ context.Context, in Settings) error {
	s.settings = in
	return s.err
}

func (s *stubStore) ListFixedRoutes(_ context.Context, activeOnly bool) ([]FixedRoute, error) {
	if !activeOnly {
		return s.routes, s.err
	}
	var out []FixedRoute
	for _, r := range s.routes {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, s.err
}

func (s *stubStore) CreateFixedRoute(_ context.Context, r *FixedRoute) error {
	s.routes = append(s.routes, *r)
	return s.err
}

func (s *stubStore) SetFixedRouteActive(_ context.Context, id types.ID, active bool) error {
	for i := range s.routes {
		if s.routes[i].ID == id {
			s.routes[i].Active = active
			return nil
		}
	}
	return ErrNotFound
}

var (
	dormGate   = types.Point{Lat: 25.0170, Lng: 121.5400}
	library    = types.Point{Lat: 25.0175, Lng: 121.5405}
	mainStreet = types.Point{Lat: 25.0330, Lng: 121.5654}
	airport    = types.Point{Lat: 25.0797, Lng: 121.2342}
)

func exampleSettings() Settings {
	return Settings{
		BaseFare:        15,
		PerKmRate:       5,
		PerMinuteRate:   2,
		SurgeMultiplier: 1.0,
		MinimumFare:     20,
		CommissionRate:  15,
	}
}

func TestPrice_Dynamic(t *testing.T) {
	tests := []struct {
		name        string
		settings    func(s *Settings)
		distanceKm  float64
		durationMin float64
		wantFare    float64
		wantMinimum bool
	}{
		{
			name:       "subtotal above minimum",
			distanceKm: 1, durationMin: 2,
			wantFare: 24.00,
		},
		{
			name:       "clamped to minimum fare",
			distanceKm: 0.1, durationMin: 1,
			wantFare: 20.00, wantMinimum: true,
		},
		{
			name:       "short trips are floored to 0.1 km and 1 minute",
			distanceKm: 0.02, durationMin: 0.2,
			wantFare: 20.00, wantMinimum: true,
		},
		{
			name:       "surge applies before the minimum",
			settings:   func(s *Settings) { s.SurgeMultiplier = 1.5 },
			distanceKm: 2, durationMin: 5,
			// (15 + 10 + 10) * 1.5
			wantFare: 52.50,
		},
		{
			name:       "surge below one can trigger the floor",
			settings:   func(s *Settings) { s.SurgeMultiplier = 0.5 },
			distanceKm: 1, durationMin: 2,
			wantFare: 20.00, wantMinimum: true,
		},
		{
			name:       "fare rounds to two decimals",
			distanceKm: 1.333, durationMin: 3.117,
			// 15 + 6.665 + 6.234 = 27.899
			wantFare: 27.90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := exampleSettings()
			if tt.settings != nil {
				tt.settings(&s)
			}
			q := Price(s, nil, Request{Pickup: dormGate, Dropoff: mainStreet, DistanceKm: tt.distanceKm, DurationMin: tt.durationMin})

			assert.Equal(t, SourceDynamic, q.Source)
			assert.InDelta(t, tt.wantFare, q.Fare, 1e-9)
			assert.Equal(t, tt.wantMinimum, q.Breakdown.MinimumApplied)
			assert.Nil(t, q.FixedRouteID)
		})
	}
}

func TestPrice_ExampleBreakdown(t *testing.T) {
	q := Price(exampleSettings(), nil, Request{Pickup: dormGate, Dropoff: mainStreet, DistanceKm: 1, DurationMin: 2})

	assert.Equal(t, Breakdown{
		BaseFare:        15,
		DistanceCharge:  5,
		TimeCharge:      4,
		Subtotal:        24,
		SurgeMultiplier: 1,
		MinimumFare:     20,
	}, q.Breakdown)
	assert.InDelta(t, 3.60, q.Commission, 1e-9)
	assert.InDelta(t, 20.40, q.DriverEarning, 1e-9)
}

func TestPrice_FixedRouteOverridesMeasuredDistance(t *testing.T) {
	route := FixedRoute{
		ID: "fr-airport", Name: "Campus to airport",
		Pickup: dormGate, Dropoff: airport,
		ToleranceMeters: 300, FixedPrice: 650, Active: true,
	}

	q := Price(exampleSettings(), []FixedRoute{route}, Request{
		// Both endpoints within ~100 m of the route's endpoints.
		Pickup:      types.Point{Lat: dormGate.Lat + 0.0008, Lng: dormGate.Lng},
		Dropoff:     types.Point{Lat: airport.Lat, Lng: airport.Lng + 0.0009},
		DistanceKm:  95,
		DurationMin: 140,
	})

	assert.Equal(t, SourceFixedRoute, q.Source)
	assert.Equal(t, 650.0, q.Fare)
	require.NotNil(t, q.FixedRouteID)
	assert.Equal(t, types.ID("fr-airport"), *q.FixedRouteID)
	assert.InDelta(t, q.Fare, q.Commission+q.DriverEarning, 0.01)
}

func TestPrice_FixedRouteEndpointsCheckedIndependently(t *testing.T) {
	route := FixedRoute{ID: "fr", Pickup: dormGate, Dropoff: airport, ToleranceMeters: 200, FixedPrice: 650, Active: true}

	tests := []struct {
		name     string
		pickup   types.Point
		dropoff  types.Point
		wantSrc  PriceSource
		inactive bool
	}{
		{name: "both endpoints inside", pickup: dormGate, dropoff: airport, wantSrc: SourceFixedRoute},
		{name: "pickup outside", pickup: mainStreet, dropoff: airport, wantSrc: SourceDynamic},
		{name: "dropoff outside", pickup: dormGate, dropoff: mainStreet, wantSrc: SourceDynamic},
		{name: "reversed direction", pickup: airport, dropoff: dormGate, wantSrc: SourceDynamic},
		{name: "inactive route ignored", pickup: dormGate, dropoff: airport, wantSrc: SourceDynamic, inactive: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := route
			r.Active = !tt.inactive
			q := Price(exampleSettings(), []FixedRoute{r}, Request{Pickup: tt.pickup, Dropoff: tt.dropoff, DistanceKm: 3, DurationMin: 8})
			assert.Equal(t, tt.wantSrc, q.Source)
		})
	}
}

func TestPrice_FirstMatchingRouteWins(t *testing.T) {
	first := FixedRoute{ID: "first", Pickup: dormGate, Dropoff: library, ToleranceMeters: 500, FixedPrice: 30, Active: true}
	second := FixedRoute{ID: "second", Pickup: dormGate, Dropoff: library, ToleranceMeters: 500, FixedPrice: 45, Active: true}

	q := Price(exampleSettings(), []FixedRoute{first, second}, Request{Pickup: dormGate, Dropoff: library, DistanceKm: 0.1, DurationMin: 1})

	require.NotNil(t, q.FixedRouteID)
	assert.Equal(t, types.ID("first"), *q.FixedRouteID)
	assert.Equal(t, 30.0, q.Fare)
}

func TestSplit_SumsToFare(t *testing.T) {
	for _, fare := range []float64{20, 24, 27.9, 33.33, 101.01, 650} {
		for _, rate := range []float64{0, 7.5, 15, 33.3, 100} {
			c, e := Split(fare, rate)
			assert.InDelta(t, fare, c+e, 0.01, "fare=%v rate=%v", fare, rate)
			assert.GreaterOrEqual(t, c, 0.0)
		}
	}
}

func TestService_QuoteReadsSettingsEveryTime(t *testing.T) {
	store := &stubStore{settings: exampleSettings()}
	svc := NewService(store)
	req := Request{Pickup: dormGate, Dropoff: mainStreet, DistanceKm: 1, DurationMin: 2}

	q1, err := svc.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 24.0, q1.Fare)

	store.settings.BaseFare = 25
	q2, err := svc.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 34.0, q2.Fare)
	assert.Equal(t, 2, store.reads)
}

func TestService_QuoteValidation(t *testing.T) {
	svc := NewService(&stubStore{settings: exampleSettings()})

	_, err := svc.Quote(context.Background(), Request{Pickup: types.Point{Lat: 91, Lng: 0}, Dropoff: mainStreet, DistanceKm: 1})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Quote(context.Background(), Request{Pickup: dormGate, Dropoff: mainStreet, DistanceKm: -1})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestService_QuotePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&stubStore{err: boom})

	_, err := svc.Quote(context.Background(), Request{Pickup: dormGate, Dropoff: mainStreet, DistanceKm: 1, DurationMin: 1})
	assert.ErrorIs(t, err, boom)
}

func TestService_UpdateSettingsValidates(t *testing.T) {
	store := &stubStore{settings: DefaultSettings()}
	svc := NewService(store)

	bad := exampleSettings()
	bad.CommissionRate = 120
	_, err := svc.UpdateSettings(context.Background(), bad)
	assert.ErrorIs(t, err, ErrBadRequest)

	bad = exampleSettings()
	bad.SurgeMultiplier = 0
	_, err = svc.UpdateSettings(context.Background(), bad)
	assert.ErrorIs(t, err, ErrBadRequest)

	saved, err := svc.UpdateSettings(context.Background(), exampleSettings())
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())
	assert.Equal(t, 15.0, store.settings.BaseFare)
}

func TestService_FixedRouteLifecycle(t *testing.T) {
	store := &stubStore{settings: exampleSettings()}
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.CreateFixedRoute(ctx, CreateFixedRouteCommand{Name: "no tolerance", Pickup: dormGate, Dropoff: airport, FixedPrice: 650})
	assert.ErrorIs(t, err, ErrBadRequest)

	r, err := svc.CreateFixedRoute(ctx, CreateFixedRouteCommand{
		Name: "Campus to airport", Pickup: dormGate, Dropoff: airport, ToleranceMeters: 200, FixedPrice: 650,
	})
	require.NoError(t, err)

	req := Request{Pickup: dormGate, Dropoff: airport, DistanceKm: 40, DurationMin: 50}
	q, err := svc.Quote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceFixedRoute, q.Source)

	require.NoError(t, svc.SetFixedRouteActive(ctx, r.ID, false))
	q, err = svc.Quote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceDynamic, q.Source)

	assert.ErrorIs(t, svc.SetFixedRouteActive(ctx, "missing", true), ErrNotFound)
}
