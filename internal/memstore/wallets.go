package memstore

import (
	"context"
	"sort"
	"time"

	"campusride/internal/modules/driver"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

type WalletStore struct {
	db *DB
}

func (s *WalletStore) GetWallet(_ context.Context, driverID types.ID) (*wallet.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[driverID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	w := d.Wallet()
	return &w, nil
}

func (s *WalletStore) ApplyMutation(_ context.Context, m wallet.Mutation) (*wallet.Wallet, *wallet.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[m.DriverID]
	if !ok {
		return nil, nil, wallet.ErrNotFound
	}
	after, tx := s.db.applyLocked(d, m)
	return &after, &tx, nil
}

func (s *WalletStore) SettleDue(_ context.Context, m wallet.Mutation, expectedDue float64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.drivers[m.DriverID]
	if !ok {
		return false, wallet.ErrNotFound
	}
	if d.TotalCommissionDue != expectedDue {
		return false, nil
	}
	s.db.applyLocked(d, m)
	return true, nil
}

func (db *DB) applyLocked(d *driver.Driver, m wallet.Mutation) (wallet.Wallet, wallet.Transaction) {
	after := d.Wallet().Apply(m)
	d.WalletBalance = after.Balance
	d.WalletStatus = after.Status
	d.TotalCommissionDue = after.TotalCommissionDue
	d.TotalCommissionPaid = after.TotalCommissionPaid
	d.IsOnline = after.IsOnline
	d.UpdatedAt = after.UpdatedAt

	tx := m.Transaction(after)
	db.txs = append(db.txs, tx)
	return after, tx
}

func (s *WalletStore) ListDue(_ context.Context) ([]wallet.Due, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []wallet.Due
	for _, d := range s.db.drivers {
		if d.TotalCommissionDue > 0 {
			out = append(out, wallet.Due{DriverID: d.ID, Amount: d.TotalCommissionDue})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

func (s *WalletStore) ListTransactions(_ context.Context, driverID types.ID, limit int) ([]wallet.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []wallet.Transaction
	for i := len(s.db.txs) - 1; i >= 0; i-- {
		tx := s.db.txs[i]
		if tx.DriverID != driverID {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *WalletStore) RestrictBelowMinimum(_ context.Context, at time.Time) ([]types.ID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []types.ID
	for _, d := range s.db.drivers {
		if d.WalletStatus == wallet.StatusActive && d.WalletBalance < d.MinimumRequiredBalance {
			d.WalletStatus = wallet.StatusRestricted
			d.IsOnline = false
			d.UpdatedAt = at
			out = append(out, d.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
