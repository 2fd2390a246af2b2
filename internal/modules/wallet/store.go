// README: Wallet store backed by PostgreSQL (wallet columns on drivers plus wallet_transactions).
package wallet

import (
	"context"
	"errors"
	"time"

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

const walletColumns = `id, wallet_balance, wallet_status, minimum_required_balance,
	total_commission_due, total_commission_paid, is_online, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.DriverID, &w.Balance, &w.Status, &w.MinimumRequiredBalance,
		&w.TotalCommissionDue, &w.TotalCommissionPaid, &w.IsOnline, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PGStore) GetWallet(ctx context.Context, driverID types.ID) (*Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM drivers WHERE id = $1`, string(driverID)))
}

func (s *PGStore) ApplyMutation(ctx context.Context, m Mutation) (*Wallet, *Transaction, error) {
	var (
		after Wallet
		entry Transaction
	)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		before, err := lockWallet(ctx, tx, m.DriverID)
		if err != nil {
			return err
		}
		after, entry, err = write(ctx, tx, *before, m)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &after, &entry, nil
}

func (s *PGStore) SettleDue(ctx context.Context, m Mutation, expectedDue float64) (bool, error) {
	settled := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		before, err := lockWallet(ctx, tx, m.DriverID)
		if err != nil {
			return err
		}
		if before.TotalCommissionDue != expectedDue {
			return nil
		}
		if _, _, err := write(ctx, tx, *before, m); err != nil {
			return err
		}
		settled = true
		return nil
	})
	return settled, err
}

func lockWallet(ctx context.Context, tx pgx.Tx, driverID types.ID) (*Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM drivers WHERE id = $1 FOR UPDATE`, string(driverID)))
}

func write(ctx context.Context, tx pgx.Tx, before Wallet, m Mutation) (Wallet, Transaction, error) {
	after := before.Apply(m)
	entry := m.Transaction(after)

	if _, err := tx.Exec(ctx, `
		UPDATE drivers
		SET wallet_balance = $2,
			wallet_status = $3,
			total_commission_due = $4,
			total_commission_paid = $5,
			is_online = $6,
			updated_at = $7
		WHERE id = $1`,
		string(m.DriverID), after.Balance, string(after.Status),
		after.TotalCommissionDue, after.TotalCommissionPaid, after.IsOnline, after.UpdatedAt,
	); err != nil {
		return Wallet{}, Transaction{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, driver_id, type, amount, settled_amount, ride_id, description, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(entry.ID), string(entry.DriverID), string(entry.Type), entry.Amount, entry.SettledAmount,
		toStringPtr(entry.RideID), entry.Description, entry.BalanceAfter, entry.CreatedAt,
	); err != nil {
		return Wallet{}, Transaction{}, err
	}
	return after, entry, nil
}

func (s *PGStore) ListDue(ctx context.Context) ([]Due, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, total_commission_due
		FROM drivers
		WHERE total_commission_due > 0
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Due
	for rows.Next() {
		var d Due
		if err := rows.Scan(&d.DriverID, &d.Amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) ListTransactions(ctx context.Context, driverID types.ID, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, type, amount, settled_amount, ride_id, description, balance_after, created_at
		FROM wallet_transactions
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(driverID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		var rideID *string
		if err := rows.Scan(&tx.ID, &tx.DriverID, &tx.Type, &tx.Amount, &tx.SettledAmount, &rideID,
			&tx.Description, &tx.BalanceAfter, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if rideID != nil {
			tx.RideID = types.ID(*rideID).Ptr()
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PGStore) RestrictBelowMinimum(ctx context.Context, at time.Time) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE drivers
		SET wallet_status = 'restricted', is_online = FALSE, updated_at = $1
		WHERE wallet_status = 'active' AND wallet_balance < minimum_required_balance
		RETURNING id`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
