// README: In-memory backend for every module store. One mutex guards all state, so multi-record
// operations are as atomic here as their Postgres transactions.
package memstore

import (
	"sync"

	"campusride/internal/modules/driver"
	"campusride/internal/modules/pricing"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

type DB struct {
	mu        sync.Mutex
	drivers   map[types.ID]*driver.Driver
	rides     map[types.ID]*ride.Ride
	rideOrder []types.ID
	events    []ride.Event
	txs       []wallet.Transaction
	settings  *pricing.Settings
	routes    []pricing.FixedRoute
}

func New() *DB {
	return &DB{
		drivers: make(map[types.ID]*driver.Driver),
		rides:   make(map[types.ID]*ride.Ride),
	}
}

func (db *DB) Drivers() *DriverStore { return &DriverStore{db: db} }
func (db *DB) Rides() *RideStore { return &RideStore{db: db} }
func (db *DB) Wallets() *WalletStore { return &WalletStore{db: db} }
func (db *DB) Pricing() *PricingStore { return &PricingStore{db: db} }
func (db *DB) Matching() *MatchingIndex { return &MatchingIndex{db: db} }

func cloneDriver(d *driver.Driver) *driver.Driver {
	out := *d
	if d.CurrentRideID != nil {
		out.CurrentRideID = d.CurrentRideID.Ptr()
	}
	if d.Location != nil {
		p := *d.Location
		out.Location = &p
	}
	if d.Heading != nil {
		h := *d.Heading
		out.Heading = &h
	}
	if d.LocationUpdatedAt != nil {
		t := *d.LocationUpdatedAt
		out.LocationUpdatedAt = &t
	}
	return &out
}

func cloneRide(r *ride.Ride) *ride.Ride {
	out := *r
	if r.DriverID != nil {
		out.DriverID = r.DriverID.Ptr()
	}
	if r.FixedRouteID != nil {
		out.FixedRouteID = r.FixedRouteID.Ptr()
	}
	out.RouteGeometry = append([][2]float64{}, r.RouteGeometry...)
	out.Rating = clonePtr(r.Rating)
	out.Review = clonePtr(r.Review)
	out.CancelledBy = clonePtr(r.CancelledBy)
	out.CancelReason = clonePtr(r.CancelReason)
	out.AcceptedAt = clonePtr(r.AcceptedAt)
	out.ArrivedAt = clonePtr(r.ArrivedAt)
	out.StartedAt = clonePtr(r.StartedAt)
	out.CompletedAt = clonePtr(r.CompletedAt)
	out.CancelledAt = clonePtr(r.CancelledAt)
	out.RatedAt = clonePtr(r.RatedAt)
	return &out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
