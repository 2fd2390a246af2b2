package memstore

import (
	"context"

	"campusride/internal/modules/pricing"
	"campusride/internal/types"
)

type PricingStore struct {
	db *DB
}

func (s *PricingStore) GetSettings(context.Context) (pricing.Settings, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.settings == nil {
		return pricing.DefaultSettings(), nil
	}
	return *s.db.settings, nil
}

func (s *PricingStore) SaveSettings(_ context.Context, in pricing.Settings) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.settings = &in
	return nil
}

func (s *PricingStore) ListFixedRoutes(_ context.Context, activeOnly bool) ([]pricing.FixedRoute, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]pricing.FixedRoute, 0, len(s.db.routes))
	for _, r := range s.db.routes {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PricingStore) CreateFixedRoute(_ context.Context, r *pricing.FixedRoute) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.routes = append(s.db.routes, *r)
	return nil
}

func (s *PricingStore) SetFixedRouteActive(_ context.Context, id types.ID, active bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.routes {
		if s.db.routes[i].ID == id {
			s.db.routes[i].Active = active
			return nil
		}
	}
	return pricing.ErrNotFound
}
