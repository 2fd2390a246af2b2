// README: Matching service offers new rides to nearby eligible drivers.
package matching

import (
	"context"
	"errors"
	"log/slog"

	"campusride/internal/config"
	"campusride/internal/geo"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/ride"
	"campusride/internal/observability"
	"campusride/internal/realtime"
	"campusride/internal/types"
)

var ErrBadRequest = errors.New("bad request")

type Service struct {
	index    Index
	notifier realtime.Registry
	cfg      config.MatchingConfig
	logger   *slog.Logger
}

func NewService(index Index, notifier realtime.Registry, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	return &Service{index: index, notifier: notifier, cfg: cfg, logger: logger}
}

// BroadcastRideRequest sends new_ride_request to every eligible driver near
// the pickup that has a live connection. Drivers without one are skipped.
func (s *Service) BroadcastRideRequest(ctx context.Context, r *ride.Ride) (int, error) {
	candidates, err := s.index.Nearby(ctx, Query{
		Center:   r.Pickup.Point(),
		RadiusKm: s.cfg.BroadcastRadiusKm,
		Limit:    s.cfg.MaxCandidates,
	})
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, c := range candidates {
		msg := realtime.Message{Type: realtime.TypeNewRideRequest, Data: map[string]any{
			"ride_id":              r.ID,
			"pickup":               r.Pickup,
			"dropoff":              r.Dropoff,
			"fare":                 r.Fare,
			"driver_earning":       r.DriverEarning,
			"display_distance_km":  r.DisplayDistanceKm,
			"display_duration_min": r.DisplayDurationMin,
			"distance_to_pickup":   c.DistanceKm,
		}}
		if s.notifier.Send(c.UserID, msg) {
			delivered++
		}
	}
	observability.BroadcastRecipients.Observe(float64(delivered))
	s.logger.Debug("ride_request_broadcast", "ride_id", r.ID, "candidates", len(candidates), "delivered", delivered)
	return delivered, nil
}

// NearbyDrivers lists eligible drivers around p. A non-positive radius uses
// the configured default.
func (s *Service) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]Candidate, error) {
	if !p.Valid() {
		return nil, ErrBadRequest
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.NearbyRadiusKm
	}
	return s.index.Nearby(ctx, Query{Center: p, RadiusKm: radiusKm, Limit: s.cfg.MaxCandidates})
}

// candidateFor applies the eligibility and radius rules to d.
func candidateFor(center types.Point, radiusKm float64, d *driver.Driver) (Candidate, bool) {
	if !d.Available() || d.Location == nil {
		return Candidate{}, false
	}
	dist := geo.HaversineKm(center, *d.Location)
	if dist > radiusKm {
		return Candidate{}, false
	}
	return Candidate{
		DriverID:    d.ID,
		UserID:      d.UserID,
		Location:    *d.Location,
		DistanceKm:  types.Round2(dist),
		VehicleType: d.VehicleType,
		Rating:      d.Rating,
	}, true
}

// Select filters drivers to candidates around q.Center, nearest first, capped
// at q.Limit. Index implementations share it.
func Select(q Query, drivers []*driver.Driver) []Candidate {
	out := make([]Candidate, 0, len(drivers))
	exact := make(map[types.ID]float64, len(drivers))
	for _, d := range drivers {
		c, ok := candidateFor(q.Center, q.RadiusKm, d)
		if !ok {
			continue
		}
		exact[c.DriverID] = geo.HaversineKm(q.Center, c.Location)
		out = append(out, c)
	}
	geo.SortByDistance(out, func(c Candidate) float64 { return exact[c.DriverID] })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
