package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/types"
)

func TestRideEvent_JSONShape(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	e := RideEvent{RideID: "r1", StudentID: "s1", DriverID: types.ID("d1").Ptr(), From: "ongoing", To: "completed", ActorType: "driver", Fare: 24, At: at}

	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ride_id":"r1","student_id":"s1","driver_id":"d1","from_status":"ongoing",
		"to_status":"completed","actor_type":"driver","fare":24,"at":"2026-03-02T08:30:00Z"}`, string(b))
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "ride.cancelled", RoutingKey(RideEvent{To: "cancelled"}))
	assert.Equal(t, "ride.driver_arrived", RoutingKey(RideEvent{To: "driver_arrived"}))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), RideEvent{}))
	assert.NoError(t, p.Close())
}
