package ride_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"campusride/internal/infra"
	"campusride/internal/logging"
	"campusride/internal/memstore"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/pricing"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/wallet"
	"campusride/internal/realtime"
	"campusride/internal/routing"
	"campusride/internal/types"
)

var (
	campusGate = types.Location{Lat: 25.0174, Lng: 121.5398, Address: "Main gate"}
	library    = types.Location{Lat: 25.0268, Lng: 121.5436, Address: "Library"}
)

type stores struct {
	name    string
	rides   ride.Store
	drivers driver.Store
	wallets wallet.Store
	pricing pricing.Store
}

// backends returns the in-memory stores, plus Postgres when
// CAMPUSRIDE_TEST_DSN is set.
func backends(t *testing.T) []func(t *testing.T) stores {
	t.Helper()
	out := []func(t *testing.T) stores{memoryStores}
	if os.Getenv("CAMPUSRIDE_TEST_DSN") != "" {
		out = append(out, postgresStores)
	}
	return out
}

func memoryStores(*testing.T) stores {
	db := memstore.New()
	return stores{name: "memory", rides: db.Rides(), drivers: db.Drivers(), wallets: db.Wallets(), pricing: db.Pricing()}
}

func postgresStores(t *testing.T) stores {
	t.Helper()
	dsn := os.Getenv("CAMPUSRIDE_TEST_DSN")
	if dsn == "" {
		t.Skip("CAMPUSRIDE_TEST_DSN not set; skipping DB-backed tests")
	}
	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, infra.Migrate(ctx, db))
	require.NoError(t, infra.ResetTables(ctx, db))
	return stores{
		name:    "postgres",
		rides:   ride.NewPGStore(db),
		drivers: driver.NewPGStore(db),
		wallets: wallet.NewPGStore(db),
		pricing: pricing.NewPGStore(db),
	}
}

type fixedRouter struct {
	route routing.Route
	err   error
}

func (r *fixedRouter) Route(context.Context, types.Point, types.Point) (routing.Route, error) {
	return r.route, r.err
}

type countingBroadcaster struct {
	mu    sync.Mutex
	rides []types.ID
}

func (b *countingBroadcaster) BroadcastRideRequest(_ context.Context, r *ride.Ride) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rides = append(b.rides, r.ID)
	return 1, nil
}

// recorder is a Registry that treats every user as connected.
type recorder struct {
	mu    sync.Mutex
	sent  map[types.ID][]realtime.Message
	rooms map[types.ID][]types.ID
}

func newRecorder() *recorder {
	return &recorder{sent: map[types.ID][]realtime.Message{}, rooms: map[types.ID][]types.ID{}}
}

func (r *recorder) Register(types.ID, realtime.Conn) *realtime.Session { return nil }
func (r *recorder) Unregister(*realtime.Session) {}

func (r *recorder) Send(userID types.ID, msg realtime.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[userID] = append(r.sent[userID], msg)
	return true
}

func (r *recorder) Broadcast(userIDs []types.ID, msg realtime.Message) int {
	for _, id := range userIDs {
		r.Send(id, msg)
	}
	return len(userIDs)
}

func (r *recorder) BroadcastRide(rideID types.ID, msg realtime.Message) int {
	r.mu.Lock()
	members := append([]types.ID(nil), r.rooms[rideID]...)
	r.mu.Unlock()
	return r.Broadcast(members, msg)
}

func (r *recorder) JoinRide(rideID types.ID, userIDs ...types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[rideID] = append(r.rooms[rideID], userIDs...)
}

func (r *recorder) LeaveRide(rideID types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, rideID)
}

func (r *recorder) kinds(userID types.ID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent[userID] {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) last(userID types.ID) realtime.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.sent[userID]
	return msgs[len(msgs)-1]
}

type harness struct {
	stores      stores
	rides       *ride.Service
	drivers     *driver.Service
	wallet      *wallet.Service
	router      *fixedRouter
	notes       *recorder
	broadcaster *countingBroadcaster
}

func newHarness(t *testing.T, open func(t *testing.T) stores) *harness {
	t.Helper()
	st := open(t)
	logger := logging.Discard()

	pricingSvc := pricing.NewService(st.pricing)
	_, err := pricingSvc.UpdateSettings(context.Background(), pricing.Settings{
		BaseFare: 15, PerKmRate: 5, PerMinuteRate: 2, SurgeMultiplier: 1, MinimumFare: 20, CommissionRate: 15,
	})
	require.NoError(t, err)

	h := &harness{
		stores:      st,
		drivers:     driver.NewService(st.drivers, 50, logger),
		wallet:      wallet.NewService(st.wallets, logger),
		router:      &fixedRouter{route: routing.Route{DistanceKm: 1, DurationMin: 2, Source: routing.SourceOSRM}},
		notes:       newRecorder(),
		broadcaster: &countingBroadcaster{},
	}
	h.rides = ride.NewService(ride.Deps{
		Store:       st.rides,
		Drivers:     h.drivers,
		Router:      h.router,
		Pricing:     pricingSvc,
		Wallet:      h.wallet,
		Broadcaster: h.broadcaster,
		Notifier:    h.notes,
		Logger:      logger,
	})
	return h
}

// onlineDriver registers an approved, funded, online driver for userID.
func (h *harness) onlineDriver(t *testing.T, userID types.ID, balance float64) *driver.Driver {
	t.Helper()
	ctx := context.Background()
	d, err := h.drivers.Register(ctx, driver.RegisterCommand{
		UserID: userID, VehicleType: "scooter", VehicleNumber: "ABC-" + string(userID), LicenseNumber: "L-" + string(userID),
	})
	require.NoError(t, err)
	_, err = h.drivers.Approve(ctx, d.ID)
	require.NoError(t, err)
	if balance > 0 {
		_, err = h.wallet.TopUp(ctx, d.ID, balance, "")
		require.NoError(t, err)
	}
	d, err = h.drivers.SetOnline(ctx, d.ID, true)
	require.NoError(t, err)
	return d
}

func (h *harness) request(t *testing.T, studentID types.ID) *ride.Ride {
	t.Helper()
	r, err := h.rides.RequestRide(context.Background(), ride.RequestCommand{StudentID: studentID, Pickup: campusGate, Dropoff: library})
	require.NoError(t, err)
	return r
}

// ongoing drives a fresh ride to the ongoing state with d.
func (h *harness) ongoing(t *testing.T, studentID types.ID, d *driver.Driver) *ride.Ride {
	t.Helper()
	ctx := context.Background()
	r := h.request(t, studentID)
	_, err := h.rides.Accept(ctx, ride.AcceptCommand{RideID: r.ID, DriverID: d.ID})
	require.NoError(t, err)
	_, err = h.rides.Arrived(ctx, ride.DriverCommand{RideID: r.ID, DriverID: d.ID})
	require.NoError(t, err)
	r, err = h.rides.Start(ctx, ride.DriverCommand{RideID: r.ID, DriverID: d.ID})
	require.NoError(t, err)
	return r
}
