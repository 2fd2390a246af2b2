// README: Proximity index over the drivers table: bounding-box prefilter, then exact haversine.
package matching

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"campusride/internal/geo"
	"campusride/internal/modules/driver"
)

type PGIndex struct {
	db *pgxpool.Pool
}

func NewPGIndex(db *pgxpool.Pool) *PGIndex {
	return &PGIndex{db: db}
}

func (s *PGIndex) Nearby(ctx context.Context, q Query) ([]Candidate, error) {
	box := geo.BoundingBox(q.Center, q.RadiusKm)
	ranges := box.LngRanges()
	// A box that does not wrap repeats its one range.
	west, east := ranges[0], ranges[len(ranges)-1]
	rows, err := s.db.Query(ctx, `
		SELECT `+driver.Columns+`
		FROM drivers
		WHERE is_online AND is_approved AND wallet_status = 'active' AND current_ride_id IS NULL
		  AND lat BETWEEN $1 AND $2
		  AND (lng BETWEEN $3 AND $4 OR lng BETWEEN $5 AND $6)`,
		box.MinLat, box.MaxLat, west[0], west[1], east[0], east[1])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*driver.Driver
	for rows.Next() {
		d, err := driver.Scan(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Select(q, drivers), nil
}
