// README: Ride store backed by PostgreSQL. Multi-row transitions run in one transaction.
package ride

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

const rideColumns = `id, student_id, driver_id, status, status_version,
	pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address,
	distance_km, duration_min, display_distance_km, display_duration_min, route_geometry, route_source,
	fare, commission_rate, commission, driver_earning, price_source, fixed_route_id,
	rating, review, cancelled_by, cancel_reason,
	created_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at, rated_at`

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var driverID, fixedRouteID, review, cancelledBy, cancelReason sql.NullString
	var rating sql.NullInt32
	var acceptedAt, arrivedAt, startedAt, completedAt, cancelledAt, ratedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.StudentID, &driverID, &r.Status, &r.StatusVersion,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Pickup.Address, &r.Dropoff.Lat, &r.Dropoff.Lng, &r.Dropoff.Address,
		&r.DistanceKm, &r.DurationMin, &r.DisplayDistanceKm, &r.DisplayDurationMin, &r.RouteGeometry, &r.RouteSource,
		&r.Fare, &r.CommissionRate, &r.Commission, &r.DriverEarning, &r.PriceSource, &fixedRouteID,
		&rating, &review, &cancelledBy, &cancelReason,
		&r.CreatedAt, &acceptedAt, &arrivedAt, &startedAt, &completedAt, &cancelledAt, &ratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.DriverID = toIDPtr(driverID)
	r.FixedRouteID = toIDPtr(fixedRouteID)
	if rating.Valid {
		v := int(rating.Int32)
		r.Rating = &v
	}
	r.Review = toStrPtr(review)
	r.CancelledBy = toStrPtr(cancelledBy)
	r.CancelReason = toStrPtr(cancelReason)
	r.AcceptedAt = toTimePtr(acceptedAt)
	r.ArrivedAt = toTimePtr(arrivedAt)
	r.StartedAt = toTimePtr(startedAt)
	r.CompletedAt = toTimePtr(completedAt)
	r.CancelledAt = toTimePtr(cancelledAt)
	r.RatedAt = toTimePtr(ratedAt)
	if r.RouteGeometry == nil {
		r.RouteGeometry = [][2]float64{}
	}
	return &r, nil
}

func (s *PGStore) Create(ctx context.Context, r *Ride, ev Event) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rides (
				id, student_id, status, status_version,
				pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address,
				distance_km, duration_min, display_distance_km, display_duration_min, route_geometry, route_source,
				fare, commission_rate, commission, driver_earning, price_source, fixed_route_id,
				created_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22,
				$23
			)`,
			string(r.ID), string(r.StudentID), string(r.Status), r.StatusVersion,
			r.Pickup.Lat, r.Pickup.Lng, r.Pickup.Address, r.Dropoff.Lat, r.Dropoff.Lng, r.Dropoff.Address,
			r.DistanceKm, r.DurationMin, r.DisplayDistanceKm, r.DisplayDurationMin, r.RouteGeometry, string(r.RouteSource),
			r.Fare, r.CommissionRate, r.Commission, r.DriverEarning, string(r.PriceSource), toStringPtr(r.FixedRouteID),
			r.CreatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveRide
		}
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, ev)
	})
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return scanRide(s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id)))
}

func (s *PGStore) HasActiveByStudent(ctx context.Context, studentID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rides
			WHERE student_id = $1
			  AND status IN ('requested','accepted','driver_arrived','ongoing')
		)`, string(studentID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PGStore) Accept(ctx context.Context, r *Ride, driverID types.ID, ev Event) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE drivers
			SET current_ride_id = $2, updated_at = $3
			WHERE id = $1 AND current_ride_id IS NULL AND is_approved`,
			string(driverID), string(r.ID), ev.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrDriverBusy
		}

		tag, err = tx.Exec(ctx, `
			UPDATE rides
			SET status = 'accepted',
				status_version = status_version + 1,
				driver_id = $2,
				accepted_at = $3
			WHERE id = $1 AND status = 'requested' AND driver_id IS NULL AND status_version = $4`,
			string(r.ID), string(driverID), ev.CreatedAt, r.StatusVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrConflict
		}
		return appendEvent(ctx, tx, ev)
	})
}

func (s *PGStore) Transition(ctx context.Context, r *Ride, to Status, ev Event) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rides
			SET status = $1,
				status_version = status_version + 1,
				arrived_at = CASE WHEN $1 = 'driver_arrived' THEN $5 ELSE arrived_at END,
				started_at = CASE WHEN $1 = 'ongoing' THEN $5 ELSE started_at END
			WHERE id = $2 AND status = $3 AND status_version = $4`,
			string(to), string(r.ID), string(r.Status), r.StatusVersion, ev.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		applied = true
		return appendEvent(ctx, tx, ev)
	})
	return applied, err
}

func (s *PGStore) Complete(ctx context.Context, r *Ride, ev Event) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rides
			SET status = 'completed',
				status_version = status_version + 1,
				completed_at = $2
			WHERE id = $1 AND status = 'ongoing' AND status_version = $3 AND driver_id = $4`,
			string(r.ID), ev.CreatedAt, r.StatusVersion, toStringPtr(r.DriverID))
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE drivers
			SET current_ride_id = CASE WHEN current_ride_id = $2 THEN NULL ELSE current_ride_id END,
				total_rides = total_rides + 1,
				total_earnings = round((total_earnings + $3)::numeric, 2)::double precision,
				updated_at = $4
			WHERE id = $1`,
			toStringPtr(r.DriverID), string(r.ID), r.DriverEarning, ev.CreatedAt); err != nil {
			return err
		}
		applied = true
		return appendEvent(ctx, tx, ev)
	})
	return applied, err
}

func (s *PGStore) Cancel(ctx context.Context, r *Ride, reason string, ev Event) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rides
			SET status = 'cancelled',
				status_version = status_version + 1,
				cancelled_at = $2,
				cancelled_by = $3,
				cancel_reason = NULLIF($4, '')
			WHERE id = $1 AND status = $5 AND status_version = $6`,
			string(r.ID), ev.CreatedAt, ev.ActorType, reason, string(r.Status), r.StatusVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		if r.DriverID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE drivers
				SET current_ride_id = NULL, updated_at = $3
				WHERE id = $1 AND current_ride_id = $2`,
				string(*r.DriverID), string(r.ID), ev.CreatedAt); err != nil {
				return err
			}
		}
		applied = true
		return appendEvent(ctx, tx, ev)
	})
	return applied, err
}

func (s *PGStore) Rate(ctx context.Context, r *Ride, rating int, review string, at time.Time) (float64, error) {
	var average float64
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		// Ratings of one driver serialize on the driver row so each average
		// sees every committed rating.
		if _, err := tx.Exec(ctx, `SELECT 1 FROM drivers WHERE id = $1 FOR UPDATE`, toStringPtr(r.DriverID)); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE rides
			SET rating = $2, review = NULLIF($3, ''), rated_at = $4
			WHERE id = $1 AND status = 'completed' AND rating IS NULL`,
			string(r.ID), rating, review, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrAlreadyRated
		}
		return tx.QueryRow(ctx, `
			UPDATE drivers
			SET rating = (
				SELECT round(avg(rating)::numeric, 1)::double precision
				FROM rides
				WHERE driver_id = $1 AND rating IS NOT NULL
			)
			WHERE id = $1
			RETURNING rating`, toStringPtr(r.DriverID)).Scan(&average)
	})
	return average, err
}

func (s *PGStore) Active(ctx context.Context, actor Actor) (*Ride, error) {
	return scanRide(s.db.QueryRow(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE `+actorColumn(actor)+` = $1
		  AND status IN ('requested','accepted','driver_arrived','ongoing')
		ORDER BY created_at DESC
		LIMIT 1`, string(actor.ID)))
}

func (s *PGStore) History(ctx context.Context, actor Actor, limit int) ([]*Ride, error) {
	return s.list(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE `+actorColumn(actor)+` = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, string(actor.ID), limit)
}

func (s *PGStore) Pending(ctx context.Context, limit int) ([]*Ride, error) {
	return s.list(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE status = 'requested'
		ORDER BY created_at, id
		LIMIT $1`, limit)
}

func (s *PGStore) List(ctx context.Context, status Status, limit int) ([]*Ride, error) {
	return s.list(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, string(status), limit)
}

func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(DISTINCT student_id) FROM rides),
			(SELECT count(*) FROM drivers),
			(SELECT count(*) FROM drivers WHERE NOT is_approved),
			count(*),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status IN ('requested','accepted','driver_arrived','ongoing')),
			COALESCE(round(sum(fare) FILTER (WHERE status = 'completed')::numeric, 2), 0)::double precision,
			COALESCE(round(sum(commission) FILTER (WHERE status = 'completed')::numeric, 2), 0)::double precision
		FROM rides`).Scan(
		&st.TotalStudents, &st.TotalDrivers, &st.PendingDrivers,
		&st.TotalRides, &st.CompletedRides, &st.ActiveRides,
		&st.TotalRevenue, &st.TotalCommission,
	)
	return st, err
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) EarningsSince(ctx context.Context, driverID types.ID, since time.Time) (Earning, error) {
	var e Earning
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(round(sum(driver_earning)::numeric, 2), 0)::double precision, count(*)
		FROM rides
		WHERE driver_id = $1 AND status = 'completed' AND completed_at >= $2`,
		string(driverID), since).Scan(&e.Amount, &e.Rides)
	return e, err
}

// Events returns the state log of one ride, oldest first.
func (s *PGStore) Events(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, actor_type, actor_id, created_at
		FROM ride_state_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.RideID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func appendEvent(ctx context.Context, tx pgx.Tx, e Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func actorColumn(a Actor) string {
	if a.Type == ActorDriver {
		return "driver_id"
	}
	return "student_id"
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	return types.ID(v.String).Ptr()
}

func toStrPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
