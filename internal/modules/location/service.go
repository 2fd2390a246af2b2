// README: Location service: throttled driver position updates, index refresh and rider forwarding.
package location

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"campusride/internal/modules/ride"
	"campusride/internal/observability"
	"campusride/internal/realtime"
	"campusride/internal/types"
)

var ErrBadRequest = errors.New("bad request")

type DriverLocations interface {
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, heading *float64, at time.Time) error
}

type ActiveRides interface {
	Active(ctx context.Context, actor ride.Actor) (*ride.Ride, error)
}

// Sink receives every accepted update after the driver record is written.
type Sink interface {
	Publish(ctx context.Context, u Update) error
	Remove(ctx context.Context, driverID types.ID) error
}

// GeoWriter is a position-only index such as the Redis GEO set.
type GeoWriter interface {
	Upsert(ctx context.Context, driverID types.ID, p types.Point) error
	Remove(ctx context.Context, driverID types.ID) error
}

type geoSink struct{ w GeoWriter }

// GeoSink adapts a GeoWriter to a Sink.
func GeoSink(w GeoWriter) Sink { return geoSink{w: w} }

func (g geoSink) Publish(ctx context.Context, u Update) error {
	return g.w.Upsert(ctx, u.DriverID, u.Point)
}

func (g geoSink) Remove(ctx context.Context, driverID types.ID) error {
	return g.w.Remove(ctx, driverID)
}

type Deps struct {
	Throttle Throttle
	Drivers  DriverLocations
	Rides    ActiveRides
	Notifier realtime.Registry
	Sinks    []Sink
	Logger   *slog.Logger
}

type Service struct {
	throttle Throttle
	drivers  DriverLocations
	rides    ActiveRides
	notifier realtime.Registry
	sinks    []Sink
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		throttle: d.Throttle,
		drivers:  d.Drivers,
		rides:    d.Rides,
		notifier: d.Notifier,
		sinks:    d.Sinks,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// Update records a driver position. At most one update per driver is
// accepted per throttle interval; the rest are dropped and reported as
// OutcomeThrottled with a nil error.
func (s *Service) Update(ctx context.Context, driverID types.ID, p types.Point, heading *float64) (Outcome, error) {
	if driverID == "" || !p.Valid() {
		return "", ErrBadRequest
	}
	if heading != nil {
		if math.IsNaN(*heading) || math.IsInf(*heading, 0) {
			return "", ErrBadRequest
		}
		h := math.Mod(*heading+360, 360)
		heading = &h
	}

	ok, err := s.throttle.Allow(ctx, driverID)
	if err != nil {
		s.logger.Warn("location_throttle_unavailable", "driver_id", driverID, "error", err)
		ok = true
	}
	if !ok {
		observability.LocationUpdates.WithLabelValues(string(OutcomeThrottled)).Inc()
		return OutcomeThrottled, nil
	}

	u := Update{DriverID: driverID, Point: p, Heading: heading, At: s.now()}
	if err := s.drivers.UpdateLocation(ctx, driverID, p, heading, u.At); err != nil {
		return "", err
	}
	observability.LocationUpdates.WithLabelValues(string(OutcomeAccepted)).Inc()

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, u); err != nil {
			s.logger.Warn("location_sink_failed", "driver_id", driverID, "error", err)
		}
	}
	s.forward(ctx, u)
	return OutcomeAccepted, nil
}

func (s *Service) forward(ctx context.Context, u Update) {
	r, err := s.rides.Active(ctx, ride.Actor{Type: ride.ActorDriver, ID: u.DriverID})
	if errors.Is(err, ride.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("location_forward_lookup_failed", "driver_id", u.DriverID, "error", err)
		return
	}
	s.notifier.Send(r.StudentID, realtime.Message{Type: realtime.TypeDriverLocation, Data: Position{
		RideID:   r.ID,
		DriverID: u.DriverID,
		Lat:      u.Point.Lat,
		Lng:      u.Point.Lng,
		Heading:  u.Heading,
		At:       u.At.UnixMilli(),
	}})
}

// Forget drops the driver from every sink, used when the driver goes offline.
func (s *Service) Forget(ctx context.Context, driverID types.ID) {
	for _, sink := range s.sinks {
		if err := sink.Remove(ctx, driverID); err != nil {
			s.logger.Warn("location_sink_remove_failed", "driver_id", driverID, "error", err)
		}
	}
}
