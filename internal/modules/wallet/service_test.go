package wallet_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/logging"
	"campusride/internal/memstore"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

type fixture struct {
	db      *memstore.DB
	drivers *driver.Service
	wallet  *wallet.Service
}

func newFixture() *fixture {
	db := memstore.New()
	logger := logging.Discard()
	return &fixture{
		db:      db,
		drivers: driver.NewService(db.Drivers(), 50, logger),
		wallet:  wallet.NewService(db.Wallets(), logger),
	}
}

func (f *fixture) driver(t *testing.T, user types.ID, balance float64, online bool) *driver.Driver {
	t.Helper()
	ctx := context.Background()
	d, err := f.drivers.Register(ctx, driver.RegisterCommand{UserID: user, VehicleNumber: "V-" + string(user), LicenseNumber: "L-" + string(user)})
	require.NoError(t, err)
	_, err = f.drivers.Approve(ctx, d.ID)
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.wallet.TopUp(ctx, d.ID, balance, "")
		require.NoError(t, err)
	}
	if online {
		d, err = f.drivers.SetOnline(ctx, d.ID, true)
		require.NoError(t, err)
	}
	return d
}

func TestDeductCommission_RestrictsBelowFloor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "u1", 52, true)

	w, err := f.wallet.DeductCommission(ctx, d.ID, "ride-1", 3.6)
	require.NoError(t, err)
	assert.Equal(t, 48.4, w.Balance)
	assert.Equal(t, wallet.StatusRestricted, w.Status)
	assert.False(t, w.IsOnline)
	assert.Equal(t, 3.6, w.TotalCommissionDue)

	_, err = f.drivers.SetOnline(ctx, d.ID, true)
	assert.ErrorIs(t, err, driver.ErrWalletRestricted)

	txs, err := f.wallet.Transactions(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, wallet.TxCommissionDeduction, txs[0].Type)
	assert.Equal(t, -3.6, txs[0].Amount)
	assert.Equal(t, 48.4, txs[0].BalanceAfter)
	require.NotNil(t, txs[0].RideID)
	assert.Equal(t, types.ID("ride-1"), *txs[0].RideID)
	assert.Equal(t, "Commission for ride ride-1", txs[0].Description)
}

func TestDeductCommission_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "u1", 100, false)

	_, err := f.wallet.DeductCommission(ctx, d.ID, "ride-1", -1)
	assert.ErrorIs(t, err, wallet.ErrBadRequest)
	_, err = f.wallet.DeductCommission(ctx, d.ID, "ride-1", math.NaN())
	assert.ErrorIs(t, err, wallet.ErrBadRequest)
	_, err = f.wallet.DeductCommission(ctx, d.ID, "", 1)
	assert.ErrorIs(t, err, wallet.ErrBadRequest)
	_, err = f.wallet.DeductCommission(ctx, "ghost", "ride-1", 1)
	assert.ErrorIs(t, err, wallet.ErrNotFound)

	w, err := f.wallet.DeductCommission(ctx, d.ID, "free-ride", 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, w.Balance)
}

func TestTopUp_LiftsRestrictionWithoutGoingOnline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "u1", 52, true)

	_, err := f.wallet.DeductCommission(ctx, d.ID, "ride-1", 3.6)
	require.NoError(t, err)

	w, err := f.wallet.TopUp(ctx, d.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusRestricted, w.Status, "49.4 is still below the floor")

	w, err = f.wallet.TopUp(ctx, d.ID, 100, "cash at office")
	require.NoError(t, err)
	assert.Equal(t, 149.4, w.Balance)
	assert.Equal(t, wallet.StatusActive, w.Status)
	assert.False(t, w.IsOnline)
	assert.Equal(t, 153.0, w.TotalCommissionPaid)

	txs, err := f.wallet.Transactions(ctx, d.ID, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "cash at office", txs[0].Description)

	online, err := f.drivers.SetOnline(ctx, d.ID, true)
	require.NoError(t, err)
	assert.True(t, online.IsOnline)
}

func TestTopUp_Validation(t *testing.T) {
	f := newFixture()
	d := f.driver(t, "u1", 0, false)

	for _, amount := range []float64{0, -5, math.Inf(1)} {
		_, err := f.wallet.TopUp(context.Background(), d.ID, amount, "")
		assert.ErrorIs(t, err, wallet.ErrBadRequest, "amount=%v", amount)
	}
}

func TestAdjust(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "u1", 60, true)

	_, err := f.wallet.Adjust(ctx, d.ID, -5, "")
	assert.ErrorIs(t, err, wallet.ErrBadRequest)
	_, err = f.wallet.Adjust(ctx, d.ID, 0.001, "rounding")
	assert.ErrorIs(t, err, wallet.ErrBadRequest)

	w, err := f.wallet.Adjust(ctx, d.ID, -15, "damage deposit")
	require.NoError(t, err)
	assert.Equal(t, 45.0, w.Balance)
	assert.Equal(t, wallet.StatusRestricted, w.Status)
	assert.False(t, w.IsOnline)

	w, err = f.wallet.Adjust(ctx, d.ID, 10, "deposit refunded")
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusActive, w.Status)
	assert.Equal(t, 60.0, w.TotalCommissionPaid, "adjustments do not count as payments")
}

func TestSettleAll_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.driver(t, "u1", 100, false)
	b := f.driver(t, "u2", 100, false)
	f.driver(t, "u3", 100, false)

	for _, c := range []struct {
		id     types.ID
		ride   types.ID
		amount float64
	}{{a.ID, "r1", 3.6}, {a.ID, "r2", 5}, {b.ID, "r3", 4.5}} {
		_, err := f.wallet.DeductCommission(ctx, c.id, c.ride, c.amount)
		require.NoError(t, err)
	}

	res, err := f.wallet.SettleAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, wallet.SettlementResult{SettledCount: 2, TotalAmount: 13.1}, res)

	w, err := f.wallet.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, w.TotalCommissionDue)
	assert.Equal(t, 108.6, w.TotalCommissionPaid)
	assert.Equal(t, 91.4, w.Balance, "settlement does not move the balance")

	again, err := f.wallet.SettleAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, wallet.SettlementResult{}, again)

	txs, err := f.wallet.Transactions(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxCommissionSettlement, txs[0].Type)
	assert.Zero(t, txs[0].Amount)
	assert.Equal(t, 8.6, txs[0].SettledAmount)
	assert.Equal(t, "Settlement of 8.60 commission", txs[0].Description)
}

// staleDues reports due amounts that no longer match the wallet.
type staleDues struct {
	*memstore.WalletStore
}

func (s staleDues) ListDue(ctx context.Context) ([]wallet.Due, error) {
	dues, err := s.WalletStore.ListDue(ctx)
	for i := range dues {
		dues[i].Amount -= 1
	}
	return dues, err
}

func TestSettleAll_SkipsChangedDue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "u1", 100, false)
	_, err := f.wallet.DeductCommission(ctx, d.ID, "r1", 3.6)
	require.NoError(t, err)

	svc := wallet.NewService(staleDues{f.db.Wallets()}, logging.Discard())
	res, err := svc.SettleAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, wallet.SettlementResult{Skipped: 1}, res)

	w, err := f.wallet.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.6, w.TotalCommissionDue)
}

func TestSettle_Single(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "u1", 100, false)

	ok, amount, err := f.wallet.Settle(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, amount)

	_, err = f.wallet.DeductCommission(ctx, d.ID, "r1", 3.6)
	require.NoError(t, err)
	ok, amount, err = f.wallet.Settle(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3.6, amount)

	_, _, err = f.wallet.Settle(ctx, "ghost")
	assert.ErrorIs(t, err, wallet.ErrNotFound)
}

func TestReconcile_RestrictsUnderfundedActiveWallets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	broke := f.driver(t, "broke", 0, false)
	f.driver(t, "funded", 80, true)

	n, err := f.wallet.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := f.wallet.Get(ctx, broke.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusRestricted, w.Status)

	n, err = f.wallet.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedgerMatchesBalance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "u1", 75, true)

	steps := []func() error{
		func() error { _, err := f.wallet.DeductCommission(ctx, d.ID, "r1", 3.6); return err },
		func() error { _, err := f.wallet.DeductCommission(ctx, d.ID, "r2", 7.35); return err },
		func() error { _, err := f.wallet.Adjust(ctx, d.ID, -2.5, "late fee"); return err },
		func() error { _, _, err := f.wallet.Settle(ctx, d.ID); return err },
		func() error { _, err := f.wallet.TopUp(ctx, d.ID, 12.25, ""); return err },
		func() error { _, err := f.wallet.DeductCommission(ctx, d.ID, "r3", 4.1); return err },
	}
	for _, step := range steps {
		require.NoError(t, step())
	}

	w, err := f.wallet.Get(ctx, d.ID)
	require.NoError(t, err)
	txs, err := f.wallet.Transactions(ctx, d.ID, 200)
	require.NoError(t, err)
	assert.Len(t, txs, 7)
	assert.Equal(t, w.Balance, wallet.BalanceFromLedger(txs))
	assert.Equal(t, 69.7, w.Balance)
}
