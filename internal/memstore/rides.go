package memstore

import (
	"context"
	"sort"
	"time"

	"campusride/internal/modules/ride"
	"campusride/internal/types"
)

type RideStore struct {
	db *DB
}

func (s *RideStore) Create(_ context.Context, r *ride.Ride, ev ride.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.hasActiveLocked(r.StudentID) {
		return ride.ErrActiveRide
	}
	s.db.rides[r.ID] = cloneRide(r)
	s.db.rideOrder = append(s.db.rideOrder, r.ID)
	s.db.appendEventLocked(ev)
	return nil
}

func (s *RideStore) Get(_ context.Context, id types.ID) (*ride.Ride, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	return cloneRide(r), nil
}

func (s *RideStore) HasActiveByStudent(_ context.Context, studentID types.ID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.hasActiveLocked(studentID), nil
}

func (db *DB) hasActiveLocked(studentID types.ID) bool {
	for _, r := range db.rides {
		if r.StudentID == studentID && !r.Status.Terminal() {
			return true
		}
	}
	return false
}

// casLocked returns the stored ride if it still matches the expected status
// and version.
func (db *DB) casLocked(expected *ride.Ride) (*ride.Ride, bool) {
	r, ok := db.rides[expected.ID]
	if !ok || r.Status != expected.Status || r.StatusVersion != expected.StatusVersion {
		return nil, false
	}
	return r, true
}

func (db *DB) appendEventLocked(ev ride.Event) {
	ev.ID = int64(len(db.events) + 1)
	db.events = append(db.events, ev)
}

func (s *RideStore) Accept(_ context.Context, expected *ride.Ride, driverID types.ID, ev ride.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[driverID]
	if !ok || !d.IsApproved || d.CurrentRideID != nil {
		return ride.ErrDriverBusy
	}
	r, ok := s.db.casLocked(expected)
	if !ok || r.Status != ride.StatusRequested || r.DriverID != nil {
		return ride.ErrConflict
	}

	d.CurrentRideID = r.ID.Ptr()
	d.UpdatedAt = ev.CreatedAt
	r.Status = ride.StatusAccepted
	r.StatusVersion++
	r.DriverID = driverID.Ptr()
	r.AcceptedAt = clonePtr(&ev.CreatedAt)
	s.db.appendEventLocked(ev)
	return nil
}

func (s *RideStore) Transition(_ context.Context, expected *ride.Ride, to ride.Status, ev ride.Event) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.casLocked(expected)
	if !ok {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	switch to {
	case ride.StatusDriverArrived:
		r.ArrivedAt = clonePtr(&ev.CreatedAt)
	case ride.StatusOngoing:
		r.StartedAt = clonePtr(&ev.CreatedAt)
	}
	s.db.appendEventLocked(ev)
	return true, nil
}

func (s *RideStore) Complete(_ context.Context, expected *ride.Ride, ev ride.Event) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.casLocked(expected)
	if !ok || r.Status != ride.StatusOngoing || r.DriverID == nil {
		return false, nil
	}
	r.Status = ride.StatusCompleted
	r.StatusVersion++
	r.CompletedAt = clonePtr(&ev.CreatedAt)

	if d, ok := s.db.drivers[*r.DriverID]; ok {
		if d.CurrentRideID != nil && *d.CurrentRideID == r.ID {
			d.CurrentRideID = nil
		}
		d.TotalRides++
		d.TotalEarnings = types.Round2(d.TotalEarnings + r.DriverEarning)
		d.UpdatedAt = ev.CreatedAt
	}
	s.db.appendEventLocked(ev)
	return true, nil
}

func (s *RideStore) Cancel(_ context.Context, expected *ride.Ride, reason string, ev ride.Event) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.casLocked(expected)
	if !ok {
		return false, nil
	}
	r.Status = ride.StatusCancelled
	r.StatusVersion++
	r.CancelledAt = clonePtr(&ev.CreatedAt)
	r.CancelledBy = clonePtr(&ev.ActorType)
	if reason != "" {
		r.CancelReason = clonePtr(&reason)
	}

	if r.DriverID != nil {
		if d, ok := s.db.drivers[*r.DriverID]; ok && d.CurrentRideID != nil && *d.CurrentRideID == r.ID {
			d.CurrentRideID = nil
			d.UpdatedAt = ev.CreatedAt
		}
	}
	s.db.appendEventLocked(ev)
	return true, nil
}

func (s *RideStore) Rate(_ context.Context, expected *ride.Ride, rating int, review string, at time.Time) (float64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rides[expected.ID]
	if !ok || r.Status != ride.StatusCompleted || r.Rating != nil {
		return 0, ride.ErrAlreadyRated
	}
	r.Rating = clonePtr(&rating)
	if review != "" {
		r.Review = clonePtr(&review)
	}
	r.RatedAt = clonePtr(&at)

	var sum, n int
	for _, other := range s.db.rides {
		if other.Rating != nil && other.DriverID != nil && *other.DriverID == *r.DriverID {
			sum += *other.Rating
			n++
		}
	}
	average := types.Round1(float64(sum) / float64(n))
	if d, ok := s.db.drivers[*r.DriverID]; ok {
		d.Rating = average
	}
	return average, nil
}

func matchesActor(r *ride.Ride, a ride.Actor) bool {
	if a.Type == ride.ActorDriver {
		return r.DriverID != nil && *r.DriverID == a.ID
	}
	return r.StudentID == a.ID
}

// newestFirst returns rides matching keep, most recently created first.
func (db *DB) newestFirst(keep func(*ride.Ride) bool) []*ride.Ride {
	var out []*ride.Ride
	for i := len(db.rideOrder) - 1; i >= 0; i-- {
		r := db.rides[db.rideOrder[i]]
		if keep(r) {
			out = append(out, cloneRide(r))
		}
	}
	return out
}

func (s *RideStore) Active(_ context.Context, a ride.Actor) (*ride.Ride, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	found := s.db.newestFirst(func(r *ride.Ride) bool { return matchesActor(r, a) && !r.Status.Terminal() })
	if len(found) == 0 {
		return nil, ride.ErrNotFound
	}
	return found[0], nil
}

func (s *RideStore) History(_ context.Context, a ride.Actor, limit int) ([]*ride.Ride, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := s.db.newestFirst(func(r *ride.Ride) bool { return matchesActor(r, a) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RideStore) Pending(_ context.Context, limit int) ([]*ride.Ride, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := s.db.newestFirst(func(r *ride.Ride) bool { return r.Status == ride.StatusRequested })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RideStore) List(_ context.Context, status ride.Status, limit int) ([]*ride.Ride, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := s.db.newestFirst(func(r *ride.Ride) bool { return status == "" || r.Status == status })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RideStore) Stats(context.Context) (ride.Stats, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st := ride.Stats{TotalDrivers: len(s.db.drivers), TotalRides: len(s.db.rides)}
	for _, d := range s.db.drivers {
		if !d.IsApproved {
			st.PendingDrivers++
		}
	}
	students := make(map[types.ID]struct{})
	for _, r := range s.db.rides {
		students[r.StudentID] = struct{}{}
		switch {
		case r.Status == ride.StatusCompleted:
			st.CompletedRides++
			st.TotalRevenue += r.Fare
			st.TotalCommission += r.Commission
		case !r.Status.Terminal():
			st.ActiveRides++
		}
	}
	st.TotalStudents = len(students)
	st.TotalRevenue = types.Round2(st.TotalRevenue)
	st.TotalCommission = types.Round2(st.TotalCommission)
	return st, nil
}

func (s *RideStore) EarningsSince(_ context.Context, driverID types.ID, since time.Time) (ride.Earning, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var e ride.Earning
	for _, r := range s.db.rides {
		if r.Status != ride.StatusCompleted || r.DriverID == nil || *r.DriverID != driverID {
			continue
		}
		if r.CompletedAt == nil || r.CompletedAt.Before(since) {
			continue
		}
		e.Amount += r.DriverEarning
		e.Rides++
	}
	e.Amount = types.Round2(e.Amount)
	return e, nil
}

func (s *RideStore) Events(_ context.Context, rideID types.ID) ([]ride.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []ride.Event
	for _, ev := range s.db.events {
		if ev.RideID == rideID {
			out = append(out, ev)
		}
	}
	return out, nil
}
