package wallet_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/infra"
	"campusride/internal/logging"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

func TestPGStore_ConcurrentMutationsSerialize(t *testing.T) {
	dsn := os.Getenv("CAMPUSRIDE_TEST_DSN")
	if dsn == "" {
		t.Skip("CAMPUSRIDE_TEST_DSN not set; skipping DB-backed tests")
	}
	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, infra.Migrate(ctx, db))
	require.NoError(t, infra.ResetTables(ctx, db))

	logger := logging.Discard()
	drivers := driver.NewService(driver.NewPGStore(db), 50, logger)
	svc := wallet.NewService(wallet.NewPGStore(db), logger)

	d, err := drivers.Register(ctx, driver.RegisterCommand{UserID: "pg-wallet", VehicleNumber: "V", LicenseNumber: "L"})
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.TopUp(ctx, d.ID, 10, "")
			errs <- err
		}()
		go func(i int) {
			defer wg.Done()
			_, err := svc.DeductCommission(ctx, d.ID, types.ID(fmt.Sprintf("ride-%d", i)), 1.5)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	w, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 85.0, w.Balance)
	assert.Equal(t, 15.0, w.TotalCommissionDue)

	txs, err := svc.Transactions(ctx, d.ID, 200)
	require.NoError(t, err)
	assert.Len(t, txs, workers*2)
	assert.Equal(t, w.Balance, wallet.BalanceFromLedger(txs))
}

func TestPGStore_DuplicateRideDeductionRejected(t *testing.T) {
	dsn := os.Getenv("CAMPUSRIDE_TEST_DSN")
	if dsn == "" {
		t.Skip("CAMPUSRIDE_TEST_DSN not set; skipping DB-backed tests")
	}
	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, infra.Migrate(ctx, db))
	require.NoError(t, infra.ResetTables(ctx, db))

	logger := logging.Discard()
	drivers := driver.NewService(driver.NewPGStore(db), 50, logger)
	svc := wallet.NewService(wallet.NewPGStore(db), logger)
	d, err := drivers.Register(ctx, driver.RegisterCommand{UserID: "pg-dup", VehicleNumber: "V", LicenseNumber: "L"})
	require.NoError(t, err)

	_, err = svc.DeductCommission(ctx, d.ID, "ride-1", 3.6)
	require.NoError(t, err)
	_, err = svc.DeductCommission(ctx, d.ID, "ride-1", 3.6)
	require.Error(t, err)

	w, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, -3.6, w.Balance)
}
