package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/logging"
	"campusride/internal/types"
)

type fakeConn struct {
	mu      sync.Mutex
	written []Message
	block   chan struct{}
	failErr error
	closed  bool
}

func (c *fakeConn) WriteJSON(v any) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.written = append(c.written, v.(Message))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.written...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestHub_SendDeliversInOrder(t *testing.T) {
	h := NewHub(8, logging.Discard())
	conn := &fakeConn{}
	h.Register("u1", conn)

	assert.True(t, h.Send("u1", Message{Type: TypeRideAccepted}))
	assert.True(t, h.Send("u1", Message{Type: TypeDriverArrived}))

	waitFor(t, func() bool { return len(conn.messages()) == 2 })
	msgs := conn.messages()
	assert.Equal(t, TypeRideAccepted, msgs[0].Type)
	assert.Equal(t, TypeDriverArrived, msgs[1].Type)
}

func TestHub_SendToUnknownUser(t *testing.T) {
	h := NewHub(8, logging.Discard())
	assert.False(t, h.Send("nobody", Message{Type: TypePong}))
}

func TestHub_FullOutboxDropsWithoutBlocking(t *testing.T) {
	h := NewHub(2, logging.Discard())
	conn := &fakeConn{block: make(chan struct{})}
	defer close(conn.block)
	h.Register("u1", conn)

	// The writer holds one message while blocked; two more fill the outbox.
	delivered := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			if h.Send("u1", Message{Type: TypeDriverLocation}) {
				delivered++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a slow connection")
	}
	assert.LessOrEqual(t, delivered, 3)
	assert.GreaterOrEqual(t, delivered, 2)
}

func TestHub_RegisterReplacesPreviousSession(t *testing.T) {
	h := NewHub(8, logging.Discard())
	old := &fakeConn{}
	first := h.Register("u1", old)
	newer := &fakeConn{}
	h.Register("u1", newer)

	waitFor(t, old.isClosed)
	<-first.Done()

	// A late unregister of the stale session must not drop the new one.
	h.Unregister(first)
	assert.True(t, h.Connected("u1"))
	assert.True(t, h.Send("u1", Message{Type: TypePong}))
	waitFor(t, func() bool { return len(newer.messages()) == 1 })
}

func TestHub_WriteFailureUnregisters(t *testing.T) {
	h := NewHub(8, logging.Discard())
	conn := &fakeConn{failErr: errors.New("broken pipe")}
	s := h.Register("u1", conn)

	h.Send("u1", Message{Type: TypePong})
	<-s.Done()
	waitFor(t, func() bool { return !h.Connected("u1") })
}

func TestHub_RideRooms(t *testing.T) {
	h := NewHub(8, logging.Discard())
	student, driver := &fakeConn{}, &fakeConn{}
	h.Register("student", student)
	h.Register("driver-user", driver)

	h.JoinRide("r1", "student", "driver-user", "offline-user")
	assert.Equal(t, 2, h.BroadcastRide("r1", Message{Type: TypeRideCancelled}))

	h.LeaveRide("r1")
	assert.Equal(t, 0, h.BroadcastRide("r1", Message{Type: TypeRideCancelled}))
	assert.Equal(t, 1, h.Broadcast([]types.ID{"student", "ghost"}, Message{Type: TypePong}))
}

func TestRedisFanout_RelaysAcrossInstances(t *testing.T) {
	client := redisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hubA := NewHub(8, logging.Discard())
	hubB := NewHub(8, logging.Discard())
	channel := "campusride:test:" + string(types.NewID())
	a := NewRedisFanout(ctx, hubA, client, channel, logging.Discard())
	b := NewRedisFanout(ctx, hubB, client, channel, logging.Discard())
	go a.Run(ctx)
	go b.Run(ctx)

	conn := &fakeConn{}
	b.Register("remote-user", conn)

	require.Eventually(t, func() bool {
		return a.Send("remote-user", Message{Type: TypeRideAccepted, Data: map[string]string{"ride_id": "r1"}})
	}, 2*time.Second, 20*time.Millisecond)
	waitFor(t, func() bool { return len(conn.messages()) >= 1 })

	got := conn.messages()[0]
	assert.Equal(t, TypeRideAccepted, got.Type)
	raw, ok := got.Data.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"ride_id":"r1"}`, string(raw))

	assert.False(t, a.Send("never-connected", Message{Type: TypePong}))
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CAMPUSRIDE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAMPUSRIDE_TEST_REDIS_ADDR not set; skipping Redis-backed tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}
