// README: Pricing settings, fixed-route overrides and quote breakdowns.
package pricing

import (
	"time"

	"campusride/internal/types"
)

// Settings is the platform-wide pricing singleton. It is read on every quote.
type Settings struct {
	BaseFare        float64   `json:"base_fare"`
	PerKmRate       float64   `json:"per_km_rate"`
	PerMinuteRate   float64   `json:"per_minute_rate"`
	SurgeMultiplier float64   `json:"surge_multiplier"`
	MinimumFare     float64   `json:"minimum_fare"`
	CommissionRate  float64   `json:"commission_rate"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func DefaultSettings() Settings {
	return Settings{
		BaseFare:        10,
		PerKmRate:       5,
		PerMinuteRate:   1,
		SurgeMultiplier: 1,
		MinimumFare:     15,
		CommissionRate:  15,
	}
}

func (s Settings) Validate() error {
	if s.BaseFare < 0 || s.PerKmRate < 0 || s.PerMinuteRate < 0 || s.MinimumFare < 0 {
		return ErrBadRequest
	}
	if s.SurgeMultiplier <= 0 {
		return ErrBadRequest
	}
	if s.CommissionRate < 0 || s.CommissionRate > 100 {
		return ErrBadRequest
	}
	return nil
}

// FixedRoute overrides dynamic pricing when both ride endpoints fall within
// ToleranceMeters of the route's endpoints.
type FixedRoute struct {
	ID              types.ID    `json:"id"`
	Name            string      `json:"name"`
	Pickup          types.Point `json:"pickup"`
	Dropoff         types.Point `json:"dropoff"`
	ToleranceMeters float64     `json:"tolerance_radius_meters"`
	FixedPrice      float64     `json:"fixed_price"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
}

type PriceSource string

const (
	SourceFixedRoute PriceSource = "fixed_route"
	SourceDynamic    PriceSource = "dynamic"
)

const (
	// Measured trips shorter than these are priced as if they were this long.
	MinDistanceKm  = 0.1
	MinDurationMin = 1.0
)

type Request struct {
	Pickup      types.Point
	Dropoff     types.Point
	DistanceKm  float64
	DurationMin float64
}

type Breakdown struct {
	BaseFare        float64 `json:"base_fare"`
	DistanceCharge  float64 `json:"distance_charge"`
	TimeCharge      float64 `json:"time_charge"`
	Subtotal        float64 `json:"subtotal"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
	MinimumFare     float64 `json:"minimum_fare"`
	MinimumApplied  bool    `json:"minimum_applied"`
}

type Quote struct {
	Fare           float64     `json:"fare"`
	Commission     float64     `json:"commission"`
	DriverEarning  float64     `json:"driver_earning"`
	CommissionRate float64     `json:"commission_rate"`
	Currency       string      `json:"currency"`
	DistanceKm     float64     `json:"distance_km"`
	DurationMin    float64     `json:"duration_minutes"`
	Source         PriceSource `json:"source"`
	FixedRouteID   *types.ID   `json:"fixed_route_id,omitempty"`
	Breakdown      Breakdown   `json:"breakdown"`
}
