// README: Ride lifecycle events published to an external broker after each committed transition.
package events

import (
	"context"
	"time"

	"campusride/internal/types"
)

type RideEvent struct {
	RideID    types.ID  `json:"ride_id"`
	StudentID types.ID  `json:"student_id"`
	DriverID  *types.ID `json:"driver_id,omitempty"`
	From      string    `json:"from_status"`
	To        string    `json:"to_status"`
	ActorType string    `json:"actor_type"`
	ActorID   *types.ID `json:"actor_id,omitempty"`
	Fare      float64   `json:"fare"`
	At        time.Time `json:"at"`
}

// Publisher delivers ride events. Failures never roll back the transition
// that produced the event.
type Publisher interface {
	Publish(ctx context.Context, e RideEvent) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, RideEvent) error { return nil }
func (Nop) Close() error                             { return nil }
