// README: Pricing engine: fixed-route override, then dynamic fare with a minimum floor.
package pricing

import (
	"context"
	"errors"
	"math"
	"time"

	"campusride/internal/geo"
	"campusride/internal/types"
)

var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("fixed route not found")
)

type Store interface {
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
	ListFixedRoutes(ctx context.Context, activeOnly bool) ([]FixedRoute, error)
	CreateFixedRoute(ctx context.Context, r *FixedRoute) error
	SetFixedRouteActive(ctx context.Context, id types.ID, active bool) error
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Quote prices a trip from current settings and active fixed routes.
// Nothing is cached between calls.
func (s *Service) Quote(ctx context.Context, req Request) (Quote, error) {
	if !req.Pickup.Valid() || !req.Dropoff.Valid() {
		return Quote{}, ErrBadRequest
	}
	if math.IsNaN(req.DistanceKm) || math.IsNaN(req.DurationMin) || req.DistanceKm < 0 || req.DurationMin < 0 {
		return Quote{}, ErrBadRequest
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return Quote{}, err
	}
	routes, err := s.store.ListFixedRoutes(ctx, true)
	if err != nil {
		return Quote{}, err
	}
	return Price(settings, routes, req), nil
}

// Price applies the precedence rules: the first matching active fixed route
// wins, otherwise the dynamic fare clamped to the minimum fare.
func Price(settings Settings, routes []FixedRoute, req Request) Quote {
	q := Quote{
		CommissionRate: settings.CommissionRate,
		Currency:       types.Currency,
		DistanceKm:     math.Max(req.DistanceKm, MinDistanceKm),
		DurationMin:    math.Max(req.DurationMin, MinDurationMin),
	}

	if r, ok := matchFixedRoute(routes, req.Pickup, req.Dropoff); ok {
		q.Fare = types.Round2(r.FixedPrice)
		q.Source = SourceFixedRoute
		q.FixedRouteID = r.ID.Ptr()
	} else {
		b := Breakdown{
			BaseFare:        settings.BaseFare,
			DistanceCharge:  q.DistanceKm * settings.PerKmRate,
			TimeCharge:      q.DurationMin * settings.PerMinuteRate,
			SurgeMultiplier: settings.SurgeMultiplier,
			MinimumFare:     settings.MinimumFare,
		}
		b.Subtotal = b.BaseFare + b.DistanceCharge + b.TimeCharge
		surged := b.Subtotal * settings.SurgeMultiplier
		if surged < settings.MinimumFare {
			surged = settings.MinimumFare
			b.MinimumApplied = true
		}
		b.DistanceCharge = types.Round2(b.DistanceCharge)
		b.TimeCharge = types.Round2(b.TimeCharge)
		b.Subtotal = types.Round2(b.Subtotal)
		q.Fare = types.Round2(surged)
		q.Source = SourceDynamic
		q.Breakdown = b
	}

	q.Commission, q.DriverEarning = Split(q.Fare, settings.CommissionRate)
	return q
}

// Split divides a fare into the platform commission and the driver's share.
// The two parts always sum back to fare.
func Split(fare, commissionRate float64) (commission, driverEarning float64) {
	commission = types.Round2(fare * commissionRate / 100)
	driverEarning = types.Round2(fare - commission)
	return commission, driverEarning
}

// matchFixedRoute checks each endpoint independently against the route's
// tolerance radius. The path between them is not compared.
func matchFixedRoute(routes []FixedRoute, pickup, dropoff types.Point) (FixedRoute, bool) {
	for _, r := range routes {
		if !r.Active {
			continue
		}
		if geo.WithinMeters(pickup, r.Pickup, r.ToleranceMeters) && geo.WithinMeters(dropoff, r.Dropoff, r.ToleranceMeters) {
			return r, true
		}
	}
	return FixedRoute{}, false
}

func (s *Service) Settings(ctx context.Context) (Settings, error) {
	return s.store.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, in Settings) (Settings, error) {
	if err := in.Validate(); err != nil {
		return Settings{}, err
	}
	in.UpdatedAt = s.now()
	if err := s.store.SaveSettings(ctx, in); err != nil {
		return Settings{}, err
	}
	return in, nil
}

type CreateFixedRouteCommand struct {
	Name            string
	Pickup          types.Point
	Dropoff         types.Point
	ToleranceMeters float64
	FixedPrice      float64
}

func (s *Service) CreateFixedRoute(ctx context.Context, cmd CreateFixedRouteCommand) (*FixedRoute, error) {
	if cmd.Name == "" || !cmd.Pickup.Valid() || !cmd.Dropoff.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.ToleranceMeters <= 0 || cmd.FixedPrice <= 0 {
		return nil, ErrBadRequest
	}
	r := &FixedRoute{
		ID:              types.NewID(),
		Name:            cmd.Name,
		Pickup:          cmd.Pickup,
		Dropoff:         cmd.Dropoff,
		ToleranceMeters: cmd.ToleranceMeters,
		FixedPrice:      types.Round2(cmd.FixedPrice),
		Active:          true,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateFixedRoute(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) ListFixedRoutes(ctx context.Context) ([]FixedRoute, error) {
	return s.store.ListFixedRoutes(ctx, false)
}

func (s *Service) SetFixedRouteActive(ctx context.Context, id types.ID, active bool) error {
	return s.store.SetFixedRouteActive(ctx, id, active)
}
