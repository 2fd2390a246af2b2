package memstore

import (
	"context"

	"campusride/internal/modules/driver"
	"campusride/internal/modules/matching"
)

// MatchingIndex scans every driver. Fine for local runs and tests.
type MatchingIndex struct {
	db *DB
}

func (s *MatchingIndex) Nearby(_ context.Context, q matching.Query) ([]matching.Candidate, error) {
	s.db.mu.Lock()
	drivers := make([]*driver.Driver, 0, len(s.db.drivers))
	for _, d := range s.db.drivers {
		drivers = append(drivers, cloneDriver(d))
	}
	s.db.mu.Unlock()
	return matching.Select(q, drivers), nil
}
