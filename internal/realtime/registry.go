// README: Connection registry contract shared by matching, ride and location services.
package realtime

import "campusride/internal/types"

// Message types pushed to clients.
const (
	TypeNewRideRequest = "new_ride_request"
	TypeRideAccepted   = "ride_accepted"
	TypeDriverArrived  = "driver_arrived"
	TypeRideStarted    = "ride_started"
	TypeRideCompleted  = "ride_completed"
	TypeRideCancelled  = "ride_cancelled"
	TypeRatingReceived = "rating_received"
	TypeDriverLocation = "driver_location"
	TypePong           = "pong"
	TypeError          = "error"
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is the write side of a client connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Registry maps users to live connections. Send never blocks; it reports
// whether the message was handed to a connection.
type Registry interface {
	Register(userID types.ID, conn Conn) *Session
	Unregister(s *Session)
	Send(userID types.ID, msg Message) bool
	Broadcast(userIDs []types.ID, msg Message) int
	BroadcastRide(rideID types.ID, msg Message) int
	JoinRide(rideID types.ID, userIDs ...types.ID)
	LeaveRide(rideID types.ID)
}

func broadcast(send func(types.ID, Message) bool, userIDs []types.ID, msg Message) int {
	delivered := 0
	for _, id := range userIDs {
		if send(id, msg) {
			delivered++
		}
	}
	return delivered
}
