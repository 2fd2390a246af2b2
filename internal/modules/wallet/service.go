// README: Wallet ledger service: commission deductions, top-ups, adjustments and batch settlement.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"campusride/internal/observability"
	"campusride/internal/types"
)

var (
	ErrNotFound   = errors.New("driver wallet not found")
	ErrBadRequest = errors.New("bad request")
)

type Store interface {
	GetWallet(ctx context.Context, driverID types.ID) (*Wallet, error)
	// ApplyMutation changes the wallet and appends the matching transaction
	// in one atomic step.
	ApplyMutation(ctx context.Context, m Mutation) (*Wallet, *Transaction, error)
	// SettleDue applies m only if total_commission_due still equals expectedDue.
	SettleDue(ctx context.Context, m Mutation, expectedDue float64) (bool, error)
	ListDue(ctx context.Context) ([]Due, error)
	ListTransactions(ctx context.Context, driverID types.ID, limit int) ([]Transaction, error)
	// RestrictBelowMinimum restricts and forces offline every active wallet
	// whose balance is below its floor, returning the affected drivers.
	RestrictBelowMinimum(ctx context.Context, at time.Time) ([]types.ID, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

func (s *Service) Get(ctx context.Context, driverID types.ID) (*Wallet, error) {
	return s.store.GetWallet(ctx, driverID)
}

func (s *Service) Transactions(ctx context.Context, driverID types.ID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, driverID, limit)
}

// DeductCommission charges a completed ride's commission. Callers must invoke
// it once per completion; the ride state machine guarantees that.
func (s *Service) DeductCommission(ctx context.Context, driverID, rideID types.ID, amount float64) (*Wallet, error) {
	if driverID == "" || rideID == "" || !finite(amount) || amount < 0 {
		return nil, ErrBadRequest
	}
	w, _, err := s.apply(ctx, Mutation{
		DriverID:    driverID,
		Type:        TxCommissionDeduction,
		Amount:      -amount,
		DueDelta:    amount,
		RideID:      rideID.Ptr(),
		Description: fmt.Sprintf("Commission for ride %s", rideID),
	})
	return w, err
}

// TopUp credits the wallet. It can lift a restriction but never puts the
// driver back online.
func (s *Service) TopUp(ctx context.Context, driverID types.ID, amount float64, description string) (*Wallet, error) {
	if driverID == "" || !finite(amount) || amount <= 0 {
		return nil, ErrBadRequest
	}
	if description == "" {
		description = "Admin Top-up"
	}
	amount = types.Round2(amount)
	w, _, err := s.apply(ctx, Mutation{
		DriverID:    driverID,
		Type:        TxAdminTopup,
		Amount:      amount,
		PaidDelta:   amount,
		Description: description,
	})
	return w, err
}

// Adjust records an operator correction of either sign.
func (s *Service) Adjust(ctx context.Context, driverID types.ID, amount float64, description string) (*Wallet, error) {
	if driverID == "" || !finite(amount) || types.Round2(amount) == 0 || description == "" {
		return nil, ErrBadRequest
	}
	w, _, err := s.apply(ctx, Mutation{
		DriverID:    driverID,
		Type:        TxAdjustment,
		Amount:      types.Round2(amount),
		Description: description,
	})
	return w, err
}

func (s *Service) apply(ctx context.Context, m Mutation) (*Wallet, *Transaction, error) {
	before, err := s.store.GetWallet(ctx, m.DriverID)
	if err != nil {
		return nil, nil, err
	}
	m.At = s.now()
	w, tx, err := s.store.ApplyMutation(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	observability.WalletMutations.WithLabelValues(string(m.Type)).Inc()
	if before.Status != StatusRestricted && w.Status == StatusRestricted {
		observability.WalletRestrictions.Inc()
		s.logger.Info("wallet_restricted", "driver_id", m.DriverID, "balance", w.Balance, "minimum", w.MinimumRequiredBalance)
	}
	s.logger.Info("wallet_mutation", "driver_id", m.DriverID, "type", m.Type, "amount", m.Amount, "balance", w.Balance, "status", w.Status)
	return w, tx, nil
}

// Settle moves one driver's due commission into the paid total. If the due
// amount changes between the read and the write, the driver is skipped.
func (s *Service) Settle(ctx context.Context, driverID types.ID) (settled bool, amount float64, err error) {
	w, err := s.store.GetWallet(ctx, driverID)
	if err != nil {
		return false, 0, err
	}
	return s.settle(ctx, Due{DriverID: driverID, Amount: w.TotalCommissionDue})
}

func (s *Service) settle(ctx context.Context, due Due) (bool, float64, error) {
	if due.Amount <= 0 {
		return false, 0, nil
	}
	ok, err := s.store.SettleDue(ctx, Mutation{
		DriverID:    due.DriverID,
		Type:        TxCommissionSettlement,
		DueDelta:    -due.Amount,
		PaidDelta:   due.Amount,
		Description: fmt.Sprintf("Settlement of %.2f commission", due.Amount),
		At:          s.now(),
	}, due.Amount)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		observability.SettlementsSkipped.Inc()
		s.logger.Info("settlement_skipped", "driver_id", due.DriverID, "expected_due", due.Amount)
		return false, 0, nil
	}
	observability.WalletMutations.WithLabelValues(string(TxCommissionSettlement)).Inc()
	return true, due.Amount, nil
}

// SettleAll settles every driver with commission due. Running it again with
// no intervening completions changes nothing.
func (s *Service) SettleAll(ctx context.Context) (SettlementResult, error) {
	dues, err := s.store.ListDue(ctx)
	if err != nil {
		return SettlementResult{}, err
	}
	var res SettlementResult
	for _, d := range dues {
		ok, amount, err := s.settle(ctx, d)
		if err != nil {
			return res, fmt.Errorf("settle driver %s: %w", d.DriverID, err)
		}
		if !ok {
			res.Skipped++
			continue
		}
		res.SettledCount++
		res.TotalAmount += amount
	}
	res.TotalAmount = types.Round2(res.TotalAmount)
	s.logger.Info("settlement_completed", "settled", res.SettledCount, "skipped", res.Skipped, "total", res.TotalAmount)
	return res, nil
}

// Reconcile restricts wallets that sit below their floor while still active.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	ids, err := s.store.RestrictBelowMinimum(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		observability.WalletRestrictions.Inc()
		s.logger.Info("wallet_restricted", "driver_id", id, "reason", "reconcile")
	}
	return len(ids), nil
}

func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("wallet_reconcile_failed", "error", err)
			}
		}
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
