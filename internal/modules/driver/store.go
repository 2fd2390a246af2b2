// README: Driver store backed by PostgreSQL.
package driver

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"campusride/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Columns scans the driver columns in the order scanDriver expects. Other
// modules reading drivers reuse it.
const Columns = `id, user_id, vehicle_type, vehicle_number, license_number,
	is_approved, is_online, current_ride_id,
	wallet_balance, wallet_status, minimum_required_balance, total_commission_due, total_commission_paid,
	total_rides, total_earnings, rating, lat, lng, heading, location_updated_at,
	created_at, updated_at`

// Scan reads one row selected with Columns.
func Scan(row pgx.Row) (*Driver, error) {
	var d Driver
	var currentRide sql.NullString
	var lat, lng, heading sql.NullFloat64
	var locAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.UserID, &d.VehicleType, &d.VehicleNumber, &d.LicenseNumber,
		&d.IsApproved, &d.IsOnline, &currentRide,
		&d.WalletBalance, &d.WalletStatus, &d.MinimumRequiredBalance, &d.TotalCommissionDue, &d.TotalCommissionPaid,
		&d.TotalRides, &d.TotalEarnings, &d.Rating, &lat, &lng, &heading, &locAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if currentRide.Valid {
		d.CurrentRideID = types.ID(currentRide.String).Ptr()
	}
	if lat.Valid && lng.Valid {
		d.Location = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if heading.Valid {
		h := heading.Float64
		d.Heading = &h
	}
	if locAt.Valid {
		t := locAt.Time
		d.LocationUpdatedAt = &t
	}
	return &d, nil
}

func (s *PGStore) Create(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, user_id, vehicle_type, vehicle_number, license_number,
			is_approved, is_online, wallet_balance, wallet_status, minimum_required_balance,
			rating, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(d.ID), string(d.UserID), d.VehicleType, d.VehicleNumber, d.LicenseNumber,
		d.IsApproved, d.IsOnline, d.WalletBalance, string(d.WalletStatus), d.MinimumRequiredBalance,
		d.Rating, d.CreatedAt, d.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyRegistered
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return Scan(s.db.QueryRow(ctx, `SELECT `+Columns+` FROM drivers WHERE id = $1`, string(id)))
}

func (s *PGStore) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return Scan(s.db.QueryRow(ctx, `SELECT `+Columns+` FROM drivers WHERE user_id = $1`, string(userID)))
}

func (s *PGStore) List(ctx context.Context, f ListFilter) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+Columns+`
		FROM drivers
		WHERE (is_online OR NOT $1)
		  AND (NOT is_approved OR NOT $2)
		ORDER BY created_at, id
		LIMIT $3`, f.OnlineOnly, f.PendingApproval, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		d, err := Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) SetApproved(ctx context.Context, id types.ID, approved bool, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET is_approved = $2,
			is_online = is_online AND $2,
			updated_at = $3
		WHERE id = $1`, string(id), approved, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetOnline(ctx context.Context, id types.ID, online bool, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET is_online = $2, updated_at = $3
		WHERE id = $1
		  AND (NOT $2 OR (is_approved AND wallet_status = 'active'))`, string(id), online, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PGStore) ClearLock(ctx context.Context, id, rideID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET current_ride_id = NULL, updated_at = $3
		WHERE id = $1 AND current_ride_id = $2`, string(id), string(rideID), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateLocation(ctx context.Context, id types.ID, p types.Point, heading *float64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET lat = $2, lng = $3, heading = COALESCE($4, heading), location_updated_at = $5
		WHERE id = $1`, string(id), p.Lat, p.Lng, heading, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
