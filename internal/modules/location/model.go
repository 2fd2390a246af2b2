// README: Driver position updates and the payload forwarded to riders.
package location

import (
	"time"

	"campusride/internal/types"
)

type Update struct {
	DriverID types.ID
	Point    types.Point
	Heading  *float64
	At       time.Time
}

// Position is the driver_location payload sent to the student of the
// driver's active ride.
type Position struct {
	RideID   types.ID `json:"ride_id"`
	DriverID types.ID `json:"driver_id"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Heading  *float64 `json:"heading,omitempty"`
	At       int64    `json:"timestamp"`
}

// Outcome of a single update, also used as the metrics label.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeThrottled Outcome = "throttled"
)
