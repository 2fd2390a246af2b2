// README: Matching candidates and the proximity index contract.
package matching

import (
	"context"

	"campusride/internal/types"
)

// Candidate is an eligible driver near a point.
type Candidate struct {
	DriverID    types.ID    `json:"driver_id"`
	UserID      types.ID    `json:"-"`
	Location    types.Point `json:"location"`
	DistanceKm  float64     `json:"distance_km"`
	VehicleType string      `json:"vehicle_type"`
	Rating      float64     `json:"rating"`
}

type Query struct {
	Center   types.Point
	RadiusKm float64
	Limit    int
}

// Index returns eligible drivers (online, approved, wallet not restricted,
// no current ride) within RadiusKm of Center, nearest first, at most Limit.
type Index interface {
	Nearby(ctx context.Context, q Query) ([]Candidate, error)
}
