// README: Pricing store backed by PostgreSQL (settings singleton and fixed routes).
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campusride/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetSettings(ctx context.Context) (Settings, error) {
	row := s.db.QueryRow(ctx, `
		SELECT base_fare, per_km_rate, per_minute_rate, surge_multiplier,
		       minimum_fare, commission_rate, updated_at
		FROM platform_settings
		WHERE id = 1`)
	var out Settings
	err := row.Scan(&out.BaseFare, &out.PerKmRate, &out.PerMinuteRate, &out.SurgeMultiplier,
		&out.MinimumFare, &out.CommissionRate, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return out, nil
}

func (s *PGStore) SaveSettings(ctx context.Context, in Settings) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO platform_settings (
			id, base_fare, per_km_rate, per_minute_rate, surge_multiplier,
			minimum_fare, commission_rate, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			base_fare = EXCLUDED.base_fare,
			per_km_rate = EXCLUDED.per_km_rate,
			per_minute_rate = EXCLUDED.per_minute_rate,
			surge_multiplier = EXCLUDED.surge_multiplier,
			minimum_fare = EXCLUDED.minimum_fare,
			commission_rate = EXCLUDED.commission_rate,
			updated_at = EXCLUDED.updated_at`,
		in.BaseFare, in.PerKmRate, in.PerMinuteRate, in.SurgeMultiplier,
		in.MinimumFare, in.CommissionRate, in.UpdatedAt,
	)
	return err
}

func (s *PGStore) ListFixedRoutes(ctx context.Context, activeOnly bool) ([]FixedRoute, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		       tolerance_meters, fixed_price, active, created_at
		FROM fixed_routes
		WHERE active OR NOT $1
		ORDER BY created_at, id`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FixedRoute
	for rows.Next() {
		var r FixedRoute
		if err := rows.Scan(&r.ID, &r.Name, &r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng,
			&r.ToleranceMeters, &r.FixedPrice, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateFixedRoute(ctx context.Context, r *FixedRoute) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fixed_routes (
			id, name, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			tolerance_meters, fixed_price, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(r.ID), r.Name, r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.ToleranceMeters, r.FixedPrice, r.Active, r.CreatedAt,
	)
	return err
}

func (s *PGStore) SetFixedRouteActive(ctx context.Context, id types.ID, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE fixed_routes SET active = $2 WHERE id = $1`, string(id), active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
