// README: Proximity index backed by a Redis GEO set, filtered by driver eligibility.
package matching

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"campusride/internal/modules/driver"
	"campusride/internal/types"
)

const driverGeoKey = "matching:drivers"

type DriverLookup interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
}

type GeoIndex struct {
	redis   *redis.Client
	drivers DriverLookup
	key     string
}

func NewGeoIndex(client *redis.Client, drivers DriverLookup) *GeoIndex {
	return &GeoIndex{redis: client, drivers: drivers, key: driverGeoKey}
}

func (s *GeoIndex) Upsert(ctx context.Context, driverID types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *GeoIndex) Remove(ctx context.Context, driverID types.ID) error {
	return s.redis.ZRem(ctx, s.key, string(driverID)).Err()
}

// Nearby searches the GEO set, then checks each hit against the driver
// record, since the set only tracks positions.
func (s *GeoIndex) Nearby(ctx context.Context, q Query) ([]Candidate, error) {
	ids, err := s.redis.GeoSearch(ctx, s.key, &redis.GeoSearchQuery{
		Longitude:  q.Center.Lng,
		Latitude:   q.Center.Lat,
		Radius:     q.RadiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	drivers := make([]*driver.Driver, 0, len(ids))
	for _, id := range ids {
		d, err := s.drivers.Get(ctx, types.ID(id))
		if errors.Is(err, driver.ErrNotFound) {
			_ = s.Remove(ctx, types.ID(id))
			continue
		}
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return Select(q, drivers), nil
}
