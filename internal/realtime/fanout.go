// README: Redis pub/sub relay so a message reaches a user connected to another instance.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"campusride/internal/types"
)

// RedisFanout wraps a local Hub. Each instance subscribes to one channel per
// locally connected user; a Send for a user that is not local is published
// to that user's channel.
type RedisFanout struct {
	hub     *Hub
	client  *redis.Client
	pubsub  *redis.PubSub
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewRedisFanout(ctx context.Context, hub *Hub, client *redis.Client, channel string, logger *slog.Logger) *RedisFanout {
	return &RedisFanout{
		hub:     hub,
		client:  client,
		pubsub:  client.Subscribe(ctx),
		prefix:  channel + ":user:",
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (f *RedisFanout) channel(userID types.ID) string {
	return f.prefix + string(userID)
}

func (f *RedisFanout) Register(userID types.ID, conn Conn) *Session {
	s := f.hub.Register(userID, conn)
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.pubsub.Subscribe(ctx, f.channel(userID)); err != nil {
		f.logger.Warn("realtime_fanout_subscribe_failed", "user_id", userID, "error", err)
	}
	return s
}

func (f *RedisFanout) Unregister(s *Session) {
	f.hub.Unregister(s)
	if f.hub.Connected(s.UserID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.pubsub.Unsubscribe(ctx, f.channel(s.UserID)); err != nil {
		f.logger.Warn("realtime_fanout_unsubscribe_failed", "user_id", s.UserID, "error", err)
	}
}

// Connected reports whether userID has a session on this instance.
func (f *RedisFanout) Connected(userID types.ID) bool {
	return f.hub.Connected(userID)
}

func (f *RedisFanout) Send(userID types.ID, msg Message) bool {
	if f.hub.Connected(userID) {
		return f.hub.Send(userID, msg)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("realtime_fanout_marshal_failed", "type", msg.Type, "error", err)
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	receivers, err := f.client.Publish(ctx, f.channel(userID), payload).Result()
	if err != nil {
		f.logger.Warn("realtime_fanout_publish_failed", "user_id", userID, "error", err)
		return false
	}
	return receivers > 0
}

func (f *RedisFanout) Broadcast(userIDs []types.ID, msg Message) int {
	return broadcast(f.Send, userIDs, msg)
}

func (f *RedisFanout) BroadcastRide(rideID types.ID, msg Message) int {
	return broadcast(f.Send, f.hub.members(rideID), msg)
}

func (f *RedisFanout) JoinRide(rideID types.ID, userIDs ...types.ID) {
	f.hub.JoinRide(rideID, userIDs...)
}

func (f *RedisFanout) LeaveRide(rideID types.ID) {
	f.hub.LeaveRide(rideID)
}

// Run delivers relayed messages to local sessions until ctx is done.
func (f *RedisFanout) Run(ctx context.Context) {
	ch := f.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = f.pubsub.Close()
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				f.logger.Warn("realtime_fanout_bad_payload", "channel", m.Channel, "error", err)
				continue
			}
			msg := Message{Type: env.Type}
			if len(env.Data) > 0 {
				msg.Data = env.Data
			}
			f.hub.Send(types.ID(strings.TrimPrefix(m.Channel, f.prefix)), msg)
		}
	}
}
