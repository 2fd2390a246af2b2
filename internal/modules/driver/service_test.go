package driver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/logging"
	"campusride/internal/memstore"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

func newServices() (*driver.Service, *wallet.Service) {
	db := memstore.New()
	logger := logging.Discard()
	return driver.NewService(db.Drivers(), 50, logger), wallet.NewService(db.Wallets(), logger)
}

func register(t *testing.T, svc *driver.Service, user types.ID) *driver.Driver {
	t.Helper()
	d, err := svc.Register(context.Background(), driver.RegisterCommand{
		UserID: user, VehicleType: " scooter ", VehicleNumber: "ABC-123", LicenseNumber: "L-9",
	})
	require.NoError(t, err)
	return d
}

func TestRegister(t *testing.T) {
	svc, _ := newServices()
	ctx := context.Background()

	d := register(t, svc, "user-1")
	assert.Equal(t, "scooter", d.VehicleType)
	assert.False(t, d.IsApproved)
	assert.False(t, d.IsOnline)
	assert.Equal(t, wallet.StatusActive, d.WalletStatus)
	assert.Equal(t, 50.0, d.MinimumRequiredBalance)
	assert.Equal(t, driver.DefaultRating, d.Rating)

	_, err := svc.Register(ctx, driver.RegisterCommand{UserID: "user-1", VehicleNumber: "X", LicenseNumber: "Y"})
	assert.ErrorIs(t, err, driver.ErrAlreadyRegistered)

	_, err = svc.Register(ctx, driver.RegisterCommand{UserID: "user-2", VehicleNumber: " ", LicenseNumber: "Y"})
	assert.ErrorIs(t, err, driver.ErrBadRequest)

	got, err := svc.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestSetOnline_Gates(t *testing.T) {
	svc, wallets := newServices()
	ctx := context.Background()
	d := register(t, svc, "user-1")

	_, err := svc.SetOnline(ctx, d.ID, true)
	assert.ErrorIs(t, err, driver.ErrNotApproved)

	_, err = svc.Approve(ctx, d.ID)
	require.NoError(t, err)
	_, err = wallets.TopUp(ctx, d.ID, 51, "")
	require.NoError(t, err)

	online, err := svc.SetOnline(ctx, d.ID, true)
	require.NoError(t, err)
	assert.True(t, online.IsOnline)

	_, err = wallets.DeductCommission(ctx, d.ID, "ride-1", 3)
	require.NoError(t, err)
	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)

	_, err = svc.SetOnline(ctx, d.ID, true)
	assert.ErrorIs(t, err, driver.ErrWalletRestricted)

	// Going offline is always allowed.
	off, err := svc.SetOnline(ctx, d.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsOnline)
}

func TestToggle(t *testing.T) {
	svc, wallets := newServices()
	ctx := context.Background()
	d := register(t, svc, "user-1")
	_, err := svc.Approve(ctx, d.ID)
	require.NoError(t, err)
	_, err = wallets.TopUp(ctx, d.ID, 100, "")
	require.NoError(t, err)

	d, err = svc.Toggle(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, d.IsOnline)
	d, err = svc.Toggle(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, d.IsOnline)
}

func TestSuspend_TakesDriverOffline(t *testing.T) {
	svc, wallets := newServices()
	ctx := context.Background()
	d := register(t, svc, "user-1")
	_, err := svc.Approve(ctx, d.ID)
	require.NoError(t, err)
	_, err = wallets.TopUp(ctx, d.ID, 100, "")
	require.NoError(t, err)
	_, err = svc.SetOnline(ctx, d.ID, true)
	require.NoError(t, err)

	d, err = svc.Suspend(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, d.IsApproved)
	assert.False(t, d.IsOnline)

	_, err = svc.Suspend(ctx, "missing")
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestList_Filters(t *testing.T) {
	svc, wallets := newServices()
	ctx := context.Background()
	pending := register(t, svc, "pending")
	approved := register(t, svc, "approved")
	_, err := svc.Approve(ctx, approved.ID)
	require.NoError(t, err)
	_, err = wallets.TopUp(ctx, approved.ID, 100, "")
	require.NoError(t, err)
	_, err = svc.SetOnline(ctx, approved.ID, true)
	require.NoError(t, err)

	all, err := svc.List(ctx, driver.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	waiting, err := svc.List(ctx, driver.ListFilter{PendingApproval: true})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, pending.ID, waiting[0].ID)

	online, err := svc.List(ctx, driver.ListFilter{OnlineOnly: true})
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, approved.ID, online[0].ID)
}

func TestForceClearLock(t *testing.T) {
	db := memstore.New()
	svc := driver.NewService(db.Drivers(), 50, logging.Discard())
	ctx := context.Background()
	d := register(t, svc, "user-1")

	// No lock held: a no-op.
	got, err := svc.ForceClearLock(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentRideID)

	_, err = svc.ForceClearLock(ctx, "missing")
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestUpdateLocation(t *testing.T) {
	svc, _ := newServices()
	ctx := context.Background()
	d := register(t, svc, "user-1")
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	heading := 90.0

	err := svc.UpdateLocation(ctx, d.ID, types.Point{Lat: 100, Lng: 0}, nil, at)
	assert.ErrorIs(t, err, driver.ErrBadRequest)

	require.NoError(t, svc.UpdateLocation(ctx, d.ID, types.Point{Lat: 25.01, Lng: 121.54}, &heading, at))
	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	assert.Equal(t, 25.01, got.Location.Lat)
	require.NotNil(t, got.Heading)
	assert.Equal(t, 90.0, *got.Heading)
	assert.Equal(t, at, *got.LocationUpdatedAt)
}

func TestAvailable(t *testing.T) {
	ride := types.ID("r1")
	tests := []struct {
		name string
		d    driver.Driver
		want bool
	}{
		{"eligible", driver.Driver{IsOnline: true, IsApproved: true, WalletStatus: wallet.StatusActive}, true},
		{"offline", driver.Driver{IsApproved: true, WalletStatus: wallet.StatusActive}, false},
		{"unapproved", driver.Driver{IsOnline: true, WalletStatus: wallet.StatusActive}, false},
		{"restricted", driver.Driver{IsOnline: true, IsApproved: true, WalletStatus: wallet.StatusRestricted}, false},
		{"busy", driver.Driver{IsOnline: true, IsApproved: true, WalletStatus: wallet.StatusActive, CurrentRideID: &ride}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Available())
		})
	}
}
