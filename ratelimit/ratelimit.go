package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLimit  = 3
	defaultWindow = 10 * time.Minute
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter gates pipeline runs per user before any resource is acquired.
type Limiter interface {
	Check(ctx context.Context, userId uuid.UUID) (Decision, error)
}

type redisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter counts uploads in a fixed window keyed per user.
func NewRedisLimiter(client *redis.Client) Limiter {
	return &redisLimiter{
		client: client,
		limit:  defaultLimit,
		window: defaultWindow,
	}
}

func (l *redisLimiter) Check(ctx context.Context, userId uuid.UUID) (Decision, error) {
	key := fmt.Sprintf("upload_rate:%s", userId)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, err
		}
	}
	if count > l.limit {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}

type memoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[uuid.UUID]*userWindow
	now     func() time.Time
}

type userWindow struct {
	start time.Time
	count int
}

// NewMemoryLimiter is the single-node implementation, also used in tests.
func NewMemoryLimiter() Limiter {
	return &memoryLimiter{
		limit:   defaultLimit,
		window:  defaultWindow,
		windows: make(map[uuid.UUID]*userWindow),
		now:     time.Now,
	}
}

func (l *memoryLimiter) Check(_ context.Context, userId uuid.UUID) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[userId]
	if w == nil || now.Sub(w.start) >= l.window {
		l.windows[userId] = &userWindow{start: now, count: 1}
		return Decision{Allowed: true}, nil
	}

	w.count++
	if w.count > l.limit {
		return Decision{Allowed: false, RetryAfter: l.window - now.Sub(w.start)}, nil
	}
	return Decision{Allowed: true}, nil
}
