// README: Ride aggregate, status definitions and the transition table.
package ride

import (
	"time"

	"campusride/internal/modules/pricing"
	"campusride/internal/routing"
	"campusride/internal/types"
)

type Status string

const (
	StatusNone          Status = "none"
	StatusRequested     Status = "requested"
	StatusAccepted      Status = "accepted"
	StatusDriverArrived Status = "driver_arrived"
	StatusOngoing       Status = "ongoing"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// ActiveStatuses are the non-terminal states. A student holds at most one
// ride in any of them.
var ActiveStatuses = []Status{StatusRequested, StatusAccepted, StatusDriverArrived, StatusOngoing}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Known reports whether s is a stored ride status.
func (s Status) Known() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusDriverArrived, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Ride struct {
	ID            types.ID       `json:"id"`
	StudentID     types.ID       `json:"student_id"`
	DriverID      *types.ID      `json:"driver_id,omitempty"`
	Status        Status         `json:"status"`
	StatusVersion int            `json:"status_version"`
	Pickup        types.Location `json:"pickup"`
	Dropoff       types.Location `json:"dropoff"`

	// DistanceKm and DurationMin are the routed values used for pricing.
	DistanceKm         float64        `json:"distance_km"`
	DurationMin        float64        `json:"duration_min"`
	DisplayDistanceKm  float64        `json:"display_distance_km"`
	DisplayDurationMin float64        `json:"display_duration_min"`
	RouteGeometry      [][2]float64   `json:"route_geometry"`
	RouteSource        routing.Source `json:"route_source"`

	Fare           float64             `json:"fare"`
	CommissionRate float64             `json:"commission_rate"`
	Commission     float64             `json:"commission"`
	DriverEarning  float64             `json:"driver_earning"`
	PriceSource    pricing.PriceSource `json:"price_source"`
	FixedRouteID   *types.ID           `json:"fixed_route_id,omitempty"`

	Rating       *int    `json:"rating,omitempty"`
	Review       *string `json:"review,omitempty"`
	CancelledBy  *string `json:"cancelled_by,omitempty"`
	CancelReason *string `json:"cancel_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RatedAt     *time.Time `json:"rated_at,omitempty"`
}

// AssignedTo reports whether driverID holds the ride.
func (r *Ride) AssignedTo(driverID types.ID) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// Actor types recorded on events and used for authorization.
const (
	ActorStudent = "student"
	ActorDriver  = "driver"
	ActorAdmin   = "admin"
	ActorSystem  = "system"
)

// Actor identifies the caller of an operation. ID is the student's user id
// for students and the driver id for drivers.
type Actor struct {
	Type string
	ID   types.ID
}

// AllowedTransitions represents the ride state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:     {StatusAccepted, StatusCancelled},
	StatusAccepted:      {StatusDriverArrived, StatusCancelled},
	StatusDriverArrived: {StatusOngoing, StatusCancelled},
	StatusOngoing:       {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Estimate struct {
	Quote              pricing.Quote  `json:"quote"`
	DisplayDistanceKm  float64        `json:"display_distance_km"`
	DisplayDurationMin float64        `json:"display_duration_min"`
	RouteGeometry      [][2]float64   `json:"route_geometry"`
	RouteSource        routing.Source `json:"route_source"`
}

// Earning is the driver's share summed over completed rides.
type Earning struct {
	Amount float64 `json:"amount"`
	Rides  int     `json:"rides"`
}

type Earnings struct {
	Today      Earning `json:"today"`
	Week       Earning `json:"week"`
	Month      Earning `json:"month"`
	Total      float64 `json:"total"`
	TotalRides int     `json:"total_rides"`
}

type RequestCommand struct {
	StudentID types.ID
	Pickup    types.Location
	Dropoff   types.Location
}

type AcceptCommand struct {
	RideID   types.ID
	DriverID types.ID
}

// DriverCommand covers the driver-only progress steps: arrived, start, complete.
type DriverCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	RideID types.ID
	Actor  Actor
	Reason string
}

type RateCommand struct {
	RideID    types.ID
	StudentID types.ID
	Rating    int
	Review    string
}

// Stats is the platform-wide dashboard view. Revenue and commission sum
// completed rides only.
type Stats struct {
	TotalStudents   int     `json:"total_students"`
	TotalDrivers    int     `json:"total_drivers"`
	PendingDrivers  int     `json:"pending_drivers"`
	TotalRides      int     `json:"total_rides"`
	CompletedRides  int     `json:"completed_rides"`
	ActiveRides     int     `json:"active_rides"`
	TotalRevenue    float64 `json:"total_revenue"`
	TotalCommission float64 `json:"total_commission"`
}
