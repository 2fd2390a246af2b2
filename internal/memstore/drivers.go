package memstore

import (
	"context"
	"sort"
	"time"

	"campusride/internal/modules/driver"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

type DriverStore struct {
	db *DB
}

func (s *DriverStore) Create(_ context.Context, d *driver.Driver) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.drivers {
		if existing.UserID == d.UserID {
			return driver.ErrAlreadyRegistered
		}
	}
	s.db.drivers[d.ID] = cloneDriver(d)
	return nil
}

func (s *DriverStore) Get(_ context.Context, id types.ID) (*driver.Driver, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	return cloneDriver(d), nil
}

func (s *DriverStore) GetByUser(_ context.Context, userID types.ID) (*driver.Driver, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, d := range s.db.drivers {
		if d.UserID == userID {
			return cloneDriver(d), nil
		}
	}
	return nil, driver.ErrNotFound
}

func (s *DriverStore) List(_ context.Context, f driver.ListFilter) ([]*driver.Driver, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*driver.Driver
	for _, d := range s.db.drivers {
		if f.OnlineOnly && !d.IsOnline {
			continue
		}
		if f.PendingApproval && d.IsApproved {
			continue
		}
		out = append(out, cloneDriver(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *DriverStore) SetApproved(_ context.Context, id types.ID, approved bool, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[id]
	if !ok {
		return driver.ErrNotFound
	}
	d.IsApproved = approved
	d.IsOnline = d.IsOnline && approved
	d.UpdatedAt = at
	return nil
}

func (s *DriverStore) SetOnline(_ context.Context, id types.ID, online bool, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[id]
	if !ok {
		return false, driver.ErrNotFound
	}
	if online && (!d.IsApproved || d.WalletStatus != wallet.StatusActive) {
		return false, nil
	}
	d.IsOnline = online
	d.UpdatedAt = at
	return true, nil
}

func (s *DriverStore) ClearLock(_ context.Context, id, rideID types.ID, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[id]
	if !ok || d.CurrentRideID == nil || *d.CurrentRideID != rideID {
		return false, nil
	}
	d.CurrentRideID = nil
	d.UpdatedAt = at
	return true, nil
}

func (s *DriverStore) UpdateLocation(_ context.Context, id types.ID, p types.Point, heading *float64, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[id]
	if !ok {
		return driver.ErrNotFound
	}
	loc := p
	d.Location = &loc
	if heading != nil {
		d.Heading = clonePtr(heading)
	}
	t := at
	d.LocationUpdatedAt = &t
	return nil
}
