// README: Per-driver update throttles. Faster updates are dropped, not queued.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"campusride/internal/types"
)

type Throttle interface {
	// Allow reports whether driverID may publish now, and if so starts a new
	// interval for it.
	Allow(ctx context.Context, driverID types.ID) (bool, error)
}

type MemoryThrottle struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[types.ID]time.Time
	now      func() time.Time
}

func NewMemoryThrottle(interval time.Duration) *MemoryThrottle {
	return &MemoryThrottle{interval: interval, last: make(map[types.ID]time.Time), now: time.Now}
}

func (t *MemoryThrottle) Allow(_ context.Context, driverID types.ID) (bool, error) {
	if t.interval <= 0 {
		return true, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[driverID]; ok && now.Sub(last) < t.interval {
		return false, nil
	}
	t.last[driverID] = now
	if len(t.last) > 4096 {
		t.evictLocked(now)
	}
	return true, nil
}

func (t *MemoryThrottle) evictLocked(now time.Time) {
	for id, last := range t.last {
		if now.Sub(last) >= t.interval {
			delete(t.last, id)
		}
	}
}

// RedisThrottle shares the interval across API instances with SET NX PX.
type RedisThrottle struct {
	redis    *redis.Client
	interval time.Duration
	prefix   string
}

func NewRedisThrottle(client *redis.Client, interval time.Duration) *RedisThrottle {
	return &RedisThrottle{redis: client, interval: interval, prefix: "location:throttle:"}
}

func (t *RedisThrottle) Allow(ctx context.Context, driverID types.ID) (bool, error) {
	if t.interval <= 0 {
		return true, nil
	}
	return t.redis.SetNX(ctx, t.prefix+string(driverID), 1, t.interval).Result()
}
