// README: Ride service implements the dispatch state machine, its side effects and notifications.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campusride/internal/events"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/pricing"
	"campusride/internal/modules/wallet"
	"campusride/internal/observability"
	"campusride/internal/realtime"
	"campusride/internal/routing"
	"campusride/internal/types"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("ride not found")
	ErrConflict     = errors.New("ride state conflict")
	ErrDriverBusy   = errors.New("driver already has an active ride")
	ErrActiveRide   = errors.New("student has active ride")
	ErrAlreadyRated = errors.New("ride already rated")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
)

// Store persists rides. Every status change is one conditional update on
// (id, expected status, status_version) and appends its Event in the same
// transaction.
type Store interface {
	Create(ctx context.Context, r *Ride, ev Event) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	HasActiveByStudent(ctx context.Context, studentID types.ID) (bool, error)
	// Accept sets the driver lock and claims the ride, or does neither.
	// It returns ErrDriverBusy when the lock is held and ErrConflict when
	// the ride is no longer claimable.
	Accept(ctx context.Context, r *Ride, driverID types.ID, ev Event) error
	// Transition applies a status change without side effects (arrived, start).
	Transition(ctx context.Context, r *Ride, to Status, ev Event) (bool, error)
	// Complete marks the ride completed, clears the driver lock and adds the
	// ride to the driver's totals.
	Complete(ctx context.Context, r *Ride, ev Event) (bool, error)
	// Cancel marks the ride cancelled and clears the driver lock if held.
	Cancel(ctx context.Context, r *Ride, reason string, ev Event) (bool, error)
	// Rate records the rating once and returns the driver's new average.
	Rate(ctx context.Context, r *Ride, rating int, review string, at time.Time) (float64, error)
	Active(ctx context.Context, actor Actor) (*Ride, error)
	History(ctx context.Context, actor Actor, limit int) ([]*Ride, error)
	Pending(ctx context.Context, limit int) ([]*Ride, error)
	EarningsSince(ctx context.Context, driverID types.ID, since time.Time) (Earning, error)
	// List returns rides newest first, all statuses when status is empty.
	List(ctx context.Context, status Status, limit int) ([]*Ride, error)
	Stats(ctx context.Context) (Stats, error)
}

type Drivers interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
}

type Router interface {
	Route(ctx context.Context, from, to types.Point) (routing.Route, error)
}

type Pricer interface {
	Quote(ctx context.Context, req pricing.Request) (pricing.Quote, error)
}

type Ledger interface {
	DeductCommission(ctx context.Context, driverID, rideID types.ID, amount float64) (*wallet.Wallet, error)
}

// Broadcaster offers a new ride to nearby drivers and reports how many were reached.
type Broadcaster interface {
	BroadcastRideRequest(ctx context.Context, r *Ride) (int, error)
}

type Deps struct {
	Store       Store
	Drivers     Drivers
	Router      Router
	Pricing     Pricer
	Wallet      Ledger
	Broadcaster Broadcaster
	Notifier    realtime.Registry
	Events      events.Publisher
	Logger      *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	store       Store
	drivers     Drivers
	router      Router
	pricing     Pricer
	wallet      Ledger
	broadcaster Broadcaster
	notifier    realtime.Registry
	events      events.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:       d.Store,
		drivers:     d.Drivers,
		router:      d.Router,
		pricing:     d.Pricing,
		wallet:      d.Wallet,
		broadcaster: d.Broadcaster,
		notifier:    d.Notifier,
		events:      d.Events,
		logger:      d.Logger,
		now:         d.Clock,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) EstimateFare(ctx context.Context, pickup, dropoff types.Point) (*Estimate, error) {
	if !pickup.Valid() || !dropoff.Valid() {
		return nil, ErrBadRequest
	}
	route, quote, err := s.price(ctx, pickup, dropoff)
	if err != nil {
		return nil, err
	}
	return &Estimate{
		Quote:              quote,
		DisplayDistanceKm:  types.Round2(route.DistanceKm),
		DisplayDurationMin: types.Round1(route.DurationMin),
		RouteGeometry:      route.Geometry,
		RouteSource:        route.Source,
	}, nil
}

func (s *Service) price(ctx context.Context, pickup, dropoff types.Point) (routing.Route, pricing.Quote, error) {
	route, err := s.router.Route(ctx, pickup, dropoff)
	if err != nil {
		return routing.Route{}, pricing.Quote{}, fmt.Errorf("route ride: %w", err)
	}
	quote, err := s.pricing.Quote(ctx, pricing.Request{
		Pickup:      pickup,
		Dropoff:     dropoff,
		DistanceKm:  route.DistanceKm,
		DurationMin: route.DurationMin,
	})
	if err != nil {
		return routing.Route{}, pricing.Quote{}, fmt.Errorf("price ride: %w", err)
	}
	return route, quote, nil
}

func (s *Service) RequestRide(ctx context.Context, cmd RequestCommand) (*Ride, error) {
	if cmd.StudentID == "" || !cmd.Pickup.Point().Valid() || !cmd.Dropoff.Point().Valid() {
		return nil, ErrBadRequest
	}
	active, err := s.store.HasActiveByStudent(ctx, cmd.StudentID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveRide
	}

	route, quote, err := s.price(ctx, cmd.Pickup.Point(), cmd.Dropoff.Point())
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &Ride{
		ID:                 types.NewID(),
		StudentID:          cmd.StudentID,
		Status:             StatusRequested,
		Pickup:             cmd.Pickup,
		Dropoff:            cmd.Dropoff,
		DistanceKm:         route.DistanceKm,
		DurationMin:        route.DurationMin,
		DisplayDistanceKm:  types.Round2(route.DistanceKm),
		DisplayDurationMin: types.Round1(route.DurationMin),
		RouteGeometry:      route.Geometry,
		RouteSource:        route.Source,
		Fare:               quote.Fare,
		CommissionRate:     quote.CommissionRate,
		Commission:         quote.Commission,
		DriverEarning:      quote.DriverEarning,
		PriceSource:        quote.Source,
		FixedRouteID:       quote.FixedRouteID,
		CreatedAt:          now,
	}
	if r.RouteGeometry == nil {
		r.RouteGeometry = [][2]float64{}
	}
	ev := Event{RideID: r.ID, FromStatus: StatusNone, ToStatus: StatusRequested, ActorType: ActorStudent, ActorID: cmd.StudentID.Ptr(), CreatedAt: now}
	if err := s.store.Create(ctx, r, ev); err != nil {
		return nil, err
	}
	s.committed(ctx, r, ev)

	if s.broadcaster != nil {
		n, err := s.broadcaster.BroadcastRideRequest(ctx, r)
		if err != nil {
			s.logger.Warn("ride_broadcast_failed", "ride_id", r.ID, "error", err)
		} else {
			s.logger.Info("ride_broadcast", "ride_id", r.ID, "delivered", n)
		}
	}
	return r, nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusAccepted) {
		return nil, ErrInvalidState
	}
	if r.DriverID != nil {
		return nil, ErrConflict
	}
	d, err := s.drivers.Get(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !d.IsApproved {
		return nil, ErrForbidden
	}
	if d.CurrentRideID != nil {
		return nil, ErrDriverBusy
	}

	ev := Event{RideID: r.ID, FromStatus: r.Status, ToStatus: StatusAccepted, ActorType: ActorDriver, ActorID: d.ID.Ptr(), CreatedAt: s.now()}
	if err := s.store.Accept(ctx, r, d.ID, ev); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrDriverBusy) {
			observability.RideConflicts.WithLabelValues("accept").Inc()
		}
		return nil, err
	}
	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, r, ev)

	s.notifier.JoinRide(r.ID, r.StudentID, d.UserID)
	s.notifier.Send(r.StudentID, realtime.Message{Type: realtime.TypeRideAccepted, Data: map[string]any{
		"ride":   r,
		"driver": driverCard(d),
	}})
	return r, nil
}

func (s *Service) Arrived(ctx context.Context, cmd DriverCommand) (*Ride, error) {
	return s.progress(ctx, cmd, StatusDriverArrived, realtime.TypeDriverArrived)
}

func (s *Service) Start(ctx context.Context, cmd DriverCommand) (*Ride, error) {
	return s.progress(ctx, cmd, StatusOngoing, realtime.TypeRideStarted)
}

func (s *Service) progress(ctx context.Context, cmd DriverCommand, to Status, notify string) (*Ride, error) {
	r, err := s.assigned(ctx, cmd, to)
	if err != nil {
		return nil, err
	}
	ev := Event{RideID: r.ID, FromStatus: r.Status, ToStatus: to, ActorType: ActorDriver, ActorID: cmd.DriverID.Ptr(), CreatedAt: s.now()}
	ok, err := s.store.Transition(ctx, r, to, ev)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RideConflicts.WithLabelValues(string(to)).Inc()
		return nil, ErrConflict
	}
	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, r, ev)
	s.notifier.Send(r.StudentID, realtime.Message{Type: notify, Data: map[string]any{"ride": r}})
	return r, nil
}

// Complete finishes the ride. The commission is deducted only by the caller
// whose conditional update won, so it happens exactly once per ride.
func (s *Service) Complete(ctx context.Context, cmd DriverCommand) (*Ride, error) {
	r, err := s.assigned(ctx, cmd, StatusCompleted)
	if err != nil {
		return nil, err
	}
	ev := Event{RideID: r.ID, FromStatus: r.Status, ToStatus: StatusCompleted, ActorType: ActorDriver, ActorID: cmd.DriverID.Ptr(), CreatedAt: s.now()}
	ok, err := s.store.Complete(ctx, r, ev)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RideConflicts.WithLabelValues("complete").Inc()
		return nil, ErrConflict
	}

	_, deductErr := s.wallet.DeductCommission(ctx, cmd.DriverID, r.ID, r.Commission)
	if deductErr != nil {
		s.logger.Error("commission_deduction_failed", "ride_id", r.ID, "driver_id", cmd.DriverID, "amount", r.Commission, "error", deductErr)
	}

	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, r, ev)
	s.notifier.Send(r.StudentID, realtime.Message{Type: realtime.TypeRideCompleted, Data: map[string]any{
		"ride_id": r.ID,
		"fare":    r.Fare,
		"ride":    r,
	}})
	s.notifier.LeaveRide(r.ID)

	if deductErr != nil {
		return r, fmt.Errorf("deduct commission for ride %s: %w", r.ID, deductErr)
	}
	return r, nil
}

func (s *Service) assigned(ctx context.Context, cmd DriverCommand, to Status) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !r.AssignedTo(cmd.DriverID) {
		return nil, ErrForbidden
	}
	if !CanTransition(r.Status, to) {
		return nil, ErrInvalidState
	}
	return r, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	switch cmd.Actor.Type {
	case ActorAdmin:
	case ActorStudent:
		if r.StudentID != cmd.Actor.ID {
			return nil, ErrForbidden
		}
	case ActorDriver:
		if !r.AssignedTo(cmd.Actor.ID) {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return nil, ErrInvalidState
	}

	var actorID *types.ID
	if cmd.Actor.ID != "" {
		actorID = cmd.Actor.ID.Ptr()
	}
	ev := Event{RideID: r.ID, FromStatus: r.Status, ToStatus: StatusCancelled, ActorType: cmd.Actor.Type, ActorID: actorID, CreatedAt: s.now()}
	ok, err := s.store.Cancel(ctx, r, cmd.Reason, ev)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RideConflicts.WithLabelValues("cancel").Inc()
		return nil, ErrConflict
	}
	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, r, ev)

	msg := realtime.Message{Type: realtime.TypeRideCancelled, Data: map[string]any{
		"ride_id":      r.ID,
		"cancelled_by": cmd.Actor.Type,
		"reason":       cmd.Reason,
	}}
	recipients := []types.ID{r.StudentID}
	if r.DriverID != nil {
		if d, err := s.drivers.Get(ctx, *r.DriverID); err == nil {
			recipients = append(recipients, d.UserID)
		} else {
			s.logger.Warn("ride_cancel_notify_driver_failed", "ride_id", r.ID, "error", err)
		}
	}
	s.notifier.Broadcast(recipients, msg)
	s.notifier.LeaveRide(r.ID)
	return r, nil
}

func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*Ride, error) {
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return nil, ErrBadRequest
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.StudentID != cmd.StudentID {
		return nil, ErrForbidden
	}
	if r.Status != StatusCompleted {
		return nil, ErrInvalidState
	}
	if r.Rating != nil {
		return nil, ErrAlreadyRated
	}

	average, err := s.store.Rate(ctx, r, cmd.Rating, cmd.Review, s.now())
	if err != nil {
		return nil, err
	}
	r, err = s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ride_rated", "ride_id", r.ID, "driver_id", r.DriverID, "rating", cmd.Rating, "driver_rating", average)

	if d, err := s.drivers.Get(ctx, *r.DriverID); err == nil {
		s.notifier.Send(d.UserID, realtime.Message{Type: realtime.TypeRatingReceived, Data: map[string]any{
			"ride_id":     r.ID,
			"rating":      cmd.Rating,
			"review":      cmd.Review,
			"new_average": average,
		}})
	}
	return r, nil
}

func (s *Service) Active(ctx context.Context, actor Actor) (*Ride, error) {
	return s.store.Active(ctx, actor)
}

func (s *Service) History(ctx context.Context, actor Actor, limit int) ([]*Ride, error) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	return s.store.History(ctx, actor, limit)
}

func (s *Service) Pending(ctx context.Context, limit int) ([]*Ride, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return s.store.Pending(ctx, limit)
}

// List is the admin ride listing. Limit defaults to 50 and must be in 1..200.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Ride, error) {
	if status != "" && !status.Known() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, status)
	}
	if limit == 0 {
		limit = 50
	}
	if limit < 1 || limit > 200 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 200", ErrBadRequest)
	}
	return s.store.List(ctx, status, limit)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// DriverEarnings sums completed rides since the start of the day, the ISO
// week and the month containing now. Boundaries are UTC.
func (s *Service) DriverEarnings(ctx context.Context, driverID types.ID, now time.Time) (*Earnings, error) {
	d, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	week := day.AddDate(0, 0, -offset)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	out := &Earnings{Total: d.TotalEarnings, TotalRides: d.TotalRides}
	for _, p := range []struct {
		since time.Time
		dst   *Earning
	}{{day, &out.Today}, {week, &out.Week}, {month, &out.Month}} {
		e, err := s.store.EarningsSince(ctx, driverID, p.since)
		if err != nil {
			return nil, err
		}
		*p.dst = e
	}
	return out, nil
}

// committed records a transition that has been persisted.
func (s *Service) committed(ctx context.Context, r *Ride, ev Event) {
	observability.RideTransitions.WithLabelValues(string(ev.ToStatus)).Inc()
	s.logger.Info("ride_transition", "ride_id", r.ID, "from", ev.FromStatus, "to", ev.ToStatus, "actor", ev.ActorType)

	err := s.events.Publish(ctx, events.RideEvent{
		RideID:    r.ID,
		StudentID: r.StudentID,
		DriverID:  r.DriverID,
		From:      string(ev.FromStatus),
		To:        string(ev.ToStatus),
		ActorType: ev.ActorType,
		ActorID:   ev.ActorID,
		Fare:      r.Fare,
		At:        ev.CreatedAt,
	})
	if err != nil {
		observability.EventsPublished.WithLabelValues("error").Inc()
		s.logger.Warn("ride_event_publish_failed", "ride_id", r.ID, "to", ev.ToStatus, "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues("ok").Inc()
}

func driverCard(d *driver.Driver) map[string]any {
	return map[string]any{
		"id":             d.ID,
		"vehicle_type":   d.VehicleType,
		"vehicle_number": d.VehicleNumber,
		"rating":         d.Rating,
		"location":       d.Location,
	}
}
